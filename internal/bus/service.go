package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/monorkin/mesh-node-stats/internal/commands"
	"github.com/monorkin/mesh-node-stats/internal/ingest"
	"github.com/monorkin/mesh-node-stats/internal/query"
)

const (
	dbusName      = "io.stanko.MeshNodeStats"
	dbusPath      = "/io/stanko/MeshNodeStats"
	dbusInterface = "io.stanko.MeshNodeStats"

	errInvalidArgs = dbusInterface + ".Error.InvalidArgs"
	errNotFound    = dbusInterface + ".Error.NotFound"

	callTimeout = 10 * time.Second
)

// Service exposes node queries and chat commands on the session bus.
type Service struct {
	querier   commands.Querier
	responder *commands.Responder
	conn      *dbus.Conn
	logger    *slog.Logger
}

func NewService(querier commands.Querier, responder *commands.Responder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		querier:   querier,
		responder: responder,
		logger:    logger,
	}
}

// Connect exports the service on the session bus and claims its well-known name.
func (s *Service) Connect() error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}

	if err := s.export(conn); err != nil {
		conn.Close()
		return err
	}

	s.conn = conn
	s.logger.Info("DBUS service started", "name", dbusName)

	return nil
}

func (s *Service) export(conn *dbus.Conn) error {
	err := conn.Export(s, dbus.ObjectPath(dbusPath), dbusInterface)
	if err != nil {
		return fmt.Errorf("failed to export service: %w", err)
	}

	err = conn.Export(introspect.NewIntrospectable(introspectNode()), dbus.ObjectPath(dbusPath), "org.freedesktop.DBus.Introspectable")
	if err != nil {
		return fmt.Errorf("failed to export introspection: %w", err)
	}

	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("failed to request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("name already taken")
	}

	return nil
}

func introspectNode() *introspect.Node {
	nodeList := introspect.Arg{Name: "nodes", Direction: "out", Type: "aa{sv}"}

	return &introspect.Node{
		Name: dbusPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name: dbusInterface,
				Methods: []introspect.Method{
					{
						Name: "NodeCount",
						Args: []introspect.Arg{{Name: "count", Direction: "out", Type: "x"}},
					},
					{
						Name: "RecentNodes",
						Args: []introspect.Arg{
							{Name: "window_seconds", Direction: "in", Type: "x"},
							nodeList,
						},
					},
					{
						Name: "TopNodes",
						Args: []introspect.Arg{
							{Name: "metric", Direction: "in", Type: "s"},
							{Name: "limit", Direction: "in", Type: "i"},
							{Name: "window_seconds", Direction: "in", Type: "x"},
							nodeList,
						},
					},
					{
						Name: "Command",
						Args: []introspect.Arg{
							{Name: "text", Direction: "in", Type: "s"},
							{Name: "reply", Direction: "out", Type: "s"},
						},
					},
				},
				Signals: []introspect.Signal{
					{
						Name: "BatchIngested",
						Args: []introspect.Arg{{Name: "batch", Type: "a{sv}"}},
					},
				},
			},
		},
	}
}

// NodeCount returns the number of nodes ever observed
func (s *Service) NodeCount() (int64, *dbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	count, err := s.querier.NodeCount(ctx)
	if err != nil {
		return 0, s.fail("NodeCount", err)
	}

	return count, nil
}

// RecentNodes returns the nodes heard within the last windowSeconds
func (s *Service) RecentNodes(windowSeconds int64) ([]map[string]dbus.Variant, *dbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	nodes, err := s.querier.RecentNodes(ctx, time.Duration(windowSeconds)*time.Second)
	if err != nil {
		return nil, s.fail("RecentNodes", err)
	}

	result := make([]map[string]dbus.Variant, len(nodes))
	for i, node := range nodes {
		result[i] = map[string]dbus.Variant{
			"node_id":    dbus.MakeVariant(node.NodeID),
			"name":       dbus.MakeVariant(node.LongName),
			"alias":      dbus.MakeVariant(node.ShortName),
			"last_heard": dbus.MakeVariant(node.LastHeard.Unix()),
		}
	}

	return result, nil
}

// TopNodes ranks snapshots in the last windowSeconds by metric
func (s *Service) TopNodes(metric string, limit int32, windowSeconds int64) ([]map[string]dbus.Variant, *dbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	ranked, err := s.querier.TopNodesByMetric(ctx, metric, int(limit), time.Duration(windowSeconds)*time.Second)
	if err != nil {
		return nil, s.fail("TopNodes", err)
	}

	result := make([]map[string]dbus.Variant, len(ranked))
	for i, row := range ranked {
		result[i] = map[string]dbus.Variant{
			"node_id":     dbus.MakeVariant(row.Snapshot.NodeID),
			"name":        dbus.MakeVariant(row.Snapshot.Node.LongName),
			"metric":      dbus.MakeVariant(string(row.Metric)),
			"value":       dbus.MakeVariant(row.Value),
			"captured_at": dbus.MakeVariant(row.Snapshot.CapturedAt.Unix()),
		}
	}

	return result, nil
}

// Command runs a chat command and returns the reply text
func (s *Service) Command(text string) (string, *dbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	return s.responder.Execute(ctx, text), nil
}

// EmitBatchIngested broadcasts the outcome of an ingestion batch
func (s *Service) EmitBatchIngested(result ingest.BatchResult) error {
	if s.conn == nil {
		return nil
	}

	return s.conn.Emit(dbus.ObjectPath(dbusPath), dbusInterface+".BatchIngested", batchData(result))
}

func batchData(result ingest.BatchResult) map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"batch_id": dbus.MakeVariant(result.ID),
		"ingested": dbus.MakeVariant(int32(result.Ingested)),
		"appended": dbus.MakeVariant(int32(result.Appended)),
		"failed":   dbus.MakeVariant(int32(len(result.Failures))),
	}
}

func (s *Service) fail(method string, err error) *dbus.Error {
	switch {
	case errors.Is(err, query.ErrInvalidMetric),
		errors.Is(err, query.ErrInvalidLimit),
		errors.Is(err, query.ErrInvalidWindow):
		return dbus.NewError(errInvalidArgs, []interface{}{err.Error()})
	case errors.Is(err, query.ErrNodeNotFound):
		return dbus.NewError(errNotFound, []interface{}{err.Error()})
	}

	s.logger.Error("DBUS call failed", "method", method, "error", err)
	return dbus.MakeFailedError(err)
}

func (s *Service) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

type BatchIngester interface {
	IngestBatch(ctx context.Context, observations []ingest.Observation) (ingest.BatchResult, error)
}

// NotifyingIngester announces every committed batch with a BatchIngested signal.
type NotifyingIngester struct {
	next    BatchIngester
	service *Service
}

func (s *Service) Notify(next BatchIngester) *NotifyingIngester {
	return &NotifyingIngester{next: next, service: s}
}

func (n *NotifyingIngester) IngestBatch(ctx context.Context, observations []ingest.Observation) (ingest.BatchResult, error) {
	result, err := n.next.IngestBatch(ctx, observations)
	if err != nil {
		return result, err
	}

	if emitErr := n.service.EmitBatchIngested(result); emitErr != nil {
		n.service.logger.Warn("Failed to emit batch signal", "batch_id", result.ID, "error", emitErr)
	}

	return result, nil
}
