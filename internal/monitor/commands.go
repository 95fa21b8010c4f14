package monitor

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"TrendSentinel/internal/collector"
	"TrendSentinel/internal/model"
	"TrendSentinel/internal/notifier"
)

const helpText = `<b>Commands</b>
/status - current trend of every instrument
/check - run a check cycle now
/weekly - send the weekly summary now
/add &lt;exchange&gt; &lt;symbol&gt; - watch an instrument
/remove &lt;exchange&gt; &lt;symbol&gt; - stop watching
/search &lt;query&gt; - find symbols
/history &lt;exchange&gt; &lt;symbol&gt; - recent checks`

// HandleCommand executes a bot command and returns the reply.
func (m *Monitor) HandleCommand(ctx context.Context, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	cmd := strings.ToLower(fields[0])
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i] // /status@SomeBot
	}
	args := fields[1:]

	switch cmd {
	case "/start", "/help":
		return helpText

	case "/status":
		rows, err := m.Status(ctx)
		if err != nil {
			return "❌ " + html.EscapeString(err.Error())
		}
		return notifier.FormatStatus(rows)

	case "/check":
		report, ran := m.RunCheckNow(ctx)
		if !ran {
			return "⏳ a check cycle is already running"
		}
		return notifier.FormatCycleReport(report)

	case "/weekly":
		if err := m.RunWeeklySummary(ctx); err != nil {
			return "❌ weekly summary failed: " + html.EscapeString(err.Error())
		}
		return ""

	case "/add", "/remove":
		if len(args) != 2 {
			return fmt.Sprintf("usage: %s &lt;exchange&gt; &lt;symbol&gt;", cmd)
		}
		inst := NormalizeInstrument(model.Instrument{Exchange: args[0], Symbol: args[1]})
		name := html.EscapeString(inst.String())
		if cmd == "/add" {
			added, err := m.AddInstrument(ctx, inst)
			switch {
			case errors.Is(err, collector.ErrUnknownProvider):
				return fmt.Sprintf("❌ unknown exchange %s (have: %s)",
					html.EscapeString(inst.Exchange), strings.Join(m.Registry.Names(), ", "))
			case errors.Is(err, collector.ErrUnknownSymbol):
				return fmt.Sprintf("❌ %s is not listed, try /search", name)
			case err != nil:
				return "❌ " + html.EscapeString(err.Error())
			case !added:
				return fmt.Sprintf("%s is already watched", name)
			}
			return fmt.Sprintf("✅ watching %s", name)
		}
		removed, err := m.RemoveInstrument(ctx, inst)
		if err != nil {
			return "❌ " + html.EscapeString(err.Error())
		}
		if !removed {
			return fmt.Sprintf("%s is not watched", name)
		}
		return fmt.Sprintf("🗑 removed %s", name)

	case "/search":
		if len(args) == 0 {
			return "usage: /search &lt;query&gt;"
		}
		q := strings.Join(args, " ")
		return notifier.FormatSearch(q, m.Search(q))

	case "/history":
		if len(args) != 2 {
			return "usage: /history &lt;exchange&gt; &lt;symbol&gt;"
		}
		inst := NormalizeInstrument(model.Instrument{Exchange: args[0], Symbol: args[1]})
		recs, err := m.Recorder.History(inst, 10)
		if err != nil {
			return "❌ " + html.EscapeString(err.Error())
		}
		return notifier.FormatHistory(inst, recs)
	}
	return "unknown command, try /help"
}
