package message

import (
	"strconv"
	"strings"
	"time"

	"github.com/ernie/herald/internal/duration"
)

// Env supplies the live values behind the environment placeholders. Lookups
// can fail (a proxy API call, a disconnected bridge); failures render as "?"
// rather than aborting the whole message.
type Env interface {
	OnlineCount() (int, error)
	MaxCapacity() (int, error)
	ProcessDisplayName() string
}

// Context carries the per-event values for one formatting pass.
type Context struct {
	Player string
	From   string // server-switch source
	To     string // server-switch destination
	// LastSeen is set for returning players only and feeds {last_seen}.
	LastSeen *time.Time
	Now      time.Time // zero means time.Now()
}

// Format substitutes every known placeholder in tmpl. Unknown placeholders
// pass through untouched so operators can spot typos in their templates.
func Format(tmpl string, ctx Context, env Env) string {
	now := ctx.Now
	if now.IsZero() {
		now = time.Now()
	}

	r := strings.NewReplacer(
		"{player}", ctx.Player,
		"{from}", ctx.From,
		"{prev}", ctx.From,
		"{to}", ctx.To,
		"{cur}", ctx.To,
		"{time}", now.Format("15:04:05"),
		"{date}", now.Format("2006-01-02"),
		"{online_count}", intOrUnknown(env.OnlineCount),
		"{max_players}", intOrUnknown(env.MaxCapacity),
		"{server}", env.ProcessDisplayName(),
		"{last_seen}", lastSeen(ctx, now),
	)
	return r.Replace(tmpl)
}

func intOrUnknown(f func() (int, error)) string {
	n, err := f()
	if err != nil {
		return "?"
	}
	return strconv.Itoa(n)
}

func lastSeen(ctx Context, now time.Time) string {
	if ctx.LastSeen == nil {
		return "?"
	}
	return duration.TimeAgo(now.Sub(*ctx.LastSeen))
}
