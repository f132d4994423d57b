package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/monorkin/mesh-node-stats/internal/models"
	"github.com/monorkin/mesh-node-stats/internal/query"
)

const (
	DEFAULT_PREFIX        = "@nara"
	DEFAULT_RECENT_WINDOW = time.Hour
	DEFAULT_TOP_LIMIT     = 3
	DEFAULT_TOP_WINDOW    = 6 * time.Hour
	MAX_TOP_LIMIT         = 10
)

// Querier is the part of the query engine the responder needs.
type Querier interface {
	NodeCount(ctx context.Context) (int64, error)
	RecentNodes(ctx context.Context, window time.Duration) ([]models.Node, error)
	TopNodesByMetric(ctx context.Context, metric string, limit int, window time.Duration) ([]query.RankedSnapshot, error)
	LatestSnapshot(ctx context.Context, nodeID uint32) (models.NodeSnapshot, error)
}

// Message is an inbound text message addressed to the bot or its channel.
type Message struct {
	Text          string
	From          uint32
	DirectMessage bool
}

// Responder turns chat commands into queries and formats the answers.
type Responder struct {
	querier      Querier
	prefix       string
	recentWindow time.Duration
	logger       *slog.Logger

	limitEvery time.Duration
	limitBurst int
	limitersMu sync.Mutex
	limiters   map[uint32]*rate.Limiter
}

type Option func(*Responder)

func WithPrefix(prefix string) Option {
	return func(responder *Responder) {
		if prefix != "" {
			responder.prefix = prefix
		}
	}
}

// WithRecentWindow sets the window used by the "nodes" command.
func WithRecentWindow(window time.Duration) Option {
	return func(responder *Responder) {
		if window > 0 {
			responder.recentWindow = window
		}
	}
}

// WithRateLimit allows each sender burst replies, refilled one per every.
// A zero every disables limiting.
func WithRateLimit(every time.Duration, burst int) Option {
	return func(responder *Responder) {
		responder.limitEvery = every
		responder.limitBurst = burst
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(responder *Responder) {
		responder.logger = logger
	}
}

func NewResponder(querier Querier, opts ...Option) *Responder {
	responder := &Responder{
		querier:      querier,
		prefix:       DEFAULT_PREFIX,
		recentWindow: DEFAULT_RECENT_WINDOW,
		logger:       slog.Default(),
		limitEvery:   5 * time.Second,
		limitBurst:   3,
		limiters:     make(map[uint32]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(responder)
	}

	return responder
}

// Respond returns the reply for msg. ok is false when the message is not
// addressed to the bot or the sender is being rate limited.
func (responder *Responder) Respond(ctx context.Context, msg Message) (reply string, ok bool) {
	text := strings.TrimSpace(msg.Text)

	if !msg.DirectMessage {
		if len(text) < len(responder.prefix) || !strings.EqualFold(text[:len(responder.prefix)], responder.prefix) {
			return "", false
		}
		text = strings.TrimSpace(text[len(responder.prefix):])
	}

	if !responder.allow(msg.From) {
		responder.logger.Debug("Rate limited sender", "from", models.FormatNodeID(msg.From))
		return "", false
	}

	return responder.Execute(ctx, text), true
}

// Execute runs a single command with the prefix already stripped.
func (responder *Responder) Execute(ctx context.Context, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return responder.help()
	}

	args := fields[1:]
	switch strings.ToLower(fields[0]) {
	case "summary":
		return responder.summary(ctx)
	case "nodes":
		return responder.nodes(ctx)
	case "top":
		return responder.top(ctx, args)
	case "node":
		return responder.node(ctx, args)
	case "help":
		return responder.help()
	default:
		return reverse(text)
	}
}

func (responder *Responder) summary(ctx context.Context) string {
	count, err := responder.querier.NodeCount(ctx)
	if err != nil {
		return responder.failure("summary", err)
	}

	return fmt.Sprintf("There are currently %d nodes known by the bot in the mesh.", count)
}

func (responder *Responder) nodes(ctx context.Context) string {
	nodes, err := responder.querier.RecentNodes(ctx, responder.recentWindow)
	if err != nil {
		return responder.failure("nodes", err)
	}

	window := FormatWindow(responder.recentWindow)
	if len(nodes) == 0 {
		return fmt.Sprintf("No nodes have been active in the last %s.", window)
	}

	return fmt.Sprintf("%d nodes have been seen in the last %s.", len(nodes), window)
}

func (responder *Responder) top(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return "Usage: top <metric> [count] [window]. Metrics: " + strings.Join(models.MetricNames(), ", ")
	}

	limit := DEFAULT_TOP_LIMIT
	window := DEFAULT_TOP_WINDOW

	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return fmt.Sprintf("Count must be a positive number, got %q.", args[1])
		}
		limit = min(n, MAX_TOP_LIMIT)
	}
	if len(args) > 2 {
		d, err := time.ParseDuration(args[2])
		if err != nil || d <= 0 {
			return fmt.Sprintf("Window must be a duration like 1h or 30m, got %q.", args[2])
		}
		window = d
	}

	ranked, err := responder.querier.TopNodesByMetric(ctx, args[0], limit, window)
	if err != nil {
		return responder.failure("top", err)
	}
	if len(ranked) == 0 {
		return fmt.Sprintf("No %s readings in the last %s.", args[0], FormatWindow(window))
	}

	metric := ranked[0].Metric
	info := models.GetMetricInfo()[metric]

	var b strings.Builder
	fmt.Fprintf(&b, "Top %s (last %s):", info.Label, FormatWindow(window))
	for i, row := range ranked {
		fmt.Fprintf(&b, "\n%d. %s (%s) %s", i+1, row.Snapshot.Node.LongName, models.FormatNodeID(row.Snapshot.NodeID), formatValue(row.Value, info.Unit))
	}

	return b.String()
}

func (responder *Responder) node(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "Usage: node <id>"
	}

	nodeID, err := models.ParseNodeID(args[0])
	if err != nil {
		return fmt.Sprintf("%q is not a node id.", args[0])
	}

	snapshot, err := responder.querier.LatestSnapshot(ctx, nodeID)
	if err != nil {
		return responder.failure("node", err)
	}

	var parts []string
	info := models.GetMetricInfo()
	for _, metric := range models.TrackedMetrics {
		if value := snapshot.Value(metric); value != nil {
			parts = append(parts, fmt.Sprintf("%s %s", strings.ToLower(info[metric].Label), formatValue(*value, info[metric].Unit)))
		}
	}

	name := snapshot.Node.LongName
	if name == "" {
		name = models.FormatNodeID(nodeID)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s has reported no metrics.", name)
	}

	return fmt.Sprintf("%s as of %s: %s", name, snapshot.CapturedAt.UTC().Format("2006-01-02 15:04 MST"), strings.Join(parts, ", "))
}

func (responder *Responder) help() string {
	return "Commands: summary, nodes, top <metric> [count] [window], node <id>, help"
}

// failure logs err and returns a reply explaining it to the user.
func (responder *Responder) failure(command string, err error) string {
	switch {
	case errors.Is(err, query.ErrInvalidMetric):
		return "Unknown metric. Try one of: " + strings.Join(models.MetricNames(), ", ")
	case errors.Is(err, query.ErrNodeNotFound):
		return "No data has been recorded for that node yet."
	}

	responder.logger.Error("Command failed", "command", command, "error", err)
	return "Sorry, I couldn't look that up right now."
}

func (responder *Responder) allow(sender uint32) bool {
	if responder.limitEvery <= 0 {
		return true
	}

	responder.limitersMu.Lock()
	defer responder.limitersMu.Unlock()

	limiter, ok := responder.limiters[sender]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(responder.limitEvery), responder.limitBurst)
		responder.limiters[sender] = limiter
	}

	return limiter.Allow()
}

// FormatWindow renders whole hours and minutes the way people say them.
func FormatWindow(window time.Duration) string {
	switch {
	case window == time.Hour:
		return "hour"
	case window%time.Hour == 0:
		return fmt.Sprintf("%d hours", int(window/time.Hour))
	case window == time.Minute:
		return "minute"
	case window%time.Minute == 0:
		return fmt.Sprintf("%d minutes", int(window/time.Minute))
	}

	return window.String()
}

func formatValue(value float64, unit string) string {
	formatted := strconv.FormatFloat(value, 'f', -1, 64)
	switch unit {
	case "":
		return formatted
	case "%", "°":
		return formatted + unit
	}

	return formatted + " " + unit
}

func reverse(text string) string {
	runes := []rune(text)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}

	return string(runes)
}
