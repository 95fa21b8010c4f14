package notifier

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"TrendSentinel/internal/model"
	"TrendSentinel/internal/recorder"
)

func trendBadge(t model.Trend) string {
	switch t {
	case model.TrendBullish:
		return "🟠"
	case model.TrendTransition:
		return "⚪"
	case model.TrendBearish:
		return "🔵"
	default:
		return "❔"
	}
}

func trendLabel(t model.Trend) string {
	return fmt.Sprintf("%s %s (%s)", trendBadge(t), strings.ToUpper(t.String()), t.Color())
}

// formatPrice keeps two decimals for ordinary prices and six for sub-unit ones.
func formatPrice(p float64) string {
	places := int32(2)
	if p != 0 && p < 1 && p > -1 {
		places = 6
	}
	return decimal.NewFromFloat(p).Round(places).String()
}

func instrumentName(inst model.Instrument) string {
	return html.EscapeString(inst.Exchange + " " + inst.Symbol)
}

// FormatTransition renders the alert for one trend change.
func FormatTransition(ev model.TransitionEvent) (subject, body string) {
	subject = fmt.Sprintf("Market Alert: %s %s changed to %s",
		ev.Instrument.Exchange, ev.Instrument.Symbol, strings.ToUpper(ev.New.String()))

	var b strings.Builder
	b.WriteString(fmt.Sprintf("📣 <b>%s</b>\n\n", instrumentName(ev.Instrument)))
	b.WriteString(fmt.Sprintf("New status: %s\n", trendLabel(ev.New)))
	b.WriteString(fmt.Sprintf("Previous status: %s\n", trendLabel(ev.Old)))
	b.WriteString(fmt.Sprintf("Price: %s\n", formatPrice(ev.Price)))
	b.WriteString(fmt.Sprintf("Time: %s", ev.Time.UTC().Format("2006-01-02 15:04 UTC")))
	return subject, b.String()
}

// FormatStatus lists every instrument with its last known state.
func FormatStatus(rows []model.InstrumentStatus) string {
	if len(rows) == 0 {
		return "Watchlist is empty. Use /add &lt;exchange&gt; &lt;symbol&gt;."
	}
	var b strings.Builder
	b.WriteString("📊 <b>Current status</b>\n\n")
	for _, r := range rows {
		writeStatusRow(&b, r)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeStatusRow(b *strings.Builder, r model.InstrumentStatus) {
	if r.State == nil {
		b.WriteString(fmt.Sprintf("❔ <b>%s</b>: not checked yet\n", instrumentName(r.Instrument)))
		return
	}
	st := r.State
	b.WriteString(fmt.Sprintf("%s <b>%s</b>: %s | %s (%+.2f%%)\n",
		trendBadge(st.Trend), instrumentName(r.Instrument), strings.ToUpper(st.Trend.String()),
		formatPrice(st.Price), st.Change24h))
	b.WriteString(fmt.Sprintf("   last check %s\n", st.LastCheck.UTC().Format("2006-01-02 15:04")))
}

// FormatWeeklySummary renders the weekly digest including the failure counters
// accumulated since the previous digest.
func FormatWeeklySummary(rows []model.InstrumentStatus, failedChecks, degradedCycles int, now time.Time) (subject, body string) {
	subject = "Weekly Trading Indicator Summary"

	var b strings.Builder
	b.WriteString(fmt.Sprintf("🗓 <b>Weekly summary</b> | %s\n\n", now.UTC().Format("2006-01-02")))
	if len(rows) == 0 {
		b.WriteString("Watchlist is empty.\n")
	}
	counts := map[model.Trend]int{}
	for _, r := range rows {
		writeStatusRow(&b, r)
		if r.State != nil {
			counts[r.State.Trend]++
		}
	}
	b.WriteString(fmt.Sprintf("\n%s %d  %s %d  %s %d\n",
		trendBadge(model.TrendBullish), counts[model.TrendBullish],
		trendBadge(model.TrendTransition), counts[model.TrendTransition],
		trendBadge(model.TrendBearish), counts[model.TrendBearish]))
	if failedChecks > 0 || degradedCycles > 0 {
		b.WriteString(fmt.Sprintf("⚠️ %d failed checks, %d degraded cycles since last summary", failedChecks, degradedCycles))
	} else {
		b.WriteString("✅ no failed checks since last summary")
	}
	return subject, b.String()
}

// FormatCycleReport summarizes a manual check cycle.
func FormatCycleReport(r model.CycleReport) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔎 <b>Check cycle</b> %s\n", r.StartedAt.UTC().Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("checked %d, skipped %d, failed %d, transitions %d",
		r.Checked, r.Skipped, r.Failed, r.Transitions))
	if r.Degraded {
		b.WriteString("\n⚠️ state store unavailable, cycle degraded")
	}
	keys := make([]string, 0, len(r.Errors))
	for k := range r.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("\n❌ %s: %s", html.EscapeString(k), html.EscapeString(r.Errors[k])))
	}
	return b.String()
}

// FormatSearch lists symbol search results.
func FormatSearch(query string, entries []model.SymbolEntry) string {
	q := html.EscapeString(query)
	if len(entries) == 0 {
		return fmt.Sprintf("No symbols match <code>%s</code>.", q)
	}
	if len(entries) == 1 && entries[0].Kind == model.KindPending {
		return "⏳ " + html.EscapeString(entries[0].Symbol)
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔍 <b>%d results for</b> <code>%s</code>\n", len(entries), q))
	for _, e := range entries {
		b.WriteString(fmt.Sprintf("<code>%s %s</code> %s\n",
			html.EscapeString(e.Provider), html.EscapeString(e.Symbol), e.Kind))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatInstalled is sent once when the watchlist is seeded on first run.
func FormatInstalled(watchlist []model.Instrument) (subject, body string) {
	subject = "Trading Alert Server Installed"
	var b strings.Builder
	b.WriteString("The trend alert service has been installed and started.\n")
	b.WriteString("You will receive alerts when an indicator changes color.\n\nWatching:\n")
	for _, inst := range watchlist {
		b.WriteString(fmt.Sprintf("• %s\n", instrumentName(inst)))
	}
	return subject, strings.TrimRight(b.String(), "\n")
}

// FormatHistory lists recent checks of one instrument, newest first.
func FormatHistory(inst model.Instrument, recs []recorder.CheckRecord) string {
	if len(recs) == 0 {
		return fmt.Sprintf("No history for %s.", instrumentName(inst))
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🕘 <b>%s</b>\n", instrumentName(inst)))
	for _, r := range recs {
		ts := r.CheckedAt.UTC().Format("01-02 15:04")
		if r.Error != "" {
			b.WriteString(fmt.Sprintf("%s ❌ %s\n", ts, html.EscapeString(r.Error)))
			continue
		}
		b.WriteString(fmt.Sprintf("%s %s %s\n", ts, trendBadge(r.Trend), formatPrice(r.Price)))
	}
	return strings.TrimRight(b.String(), "\n")
}
