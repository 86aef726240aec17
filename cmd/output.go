package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/SergeiSkv/pictofix/history"
	"github.com/SergeiSkv/pictofix/models"
	"github.com/SergeiSkv/pictofix/normalizer"
)

// HistoryOutput is the JSON shape of `pictofix history`
type HistoryOutput struct {
	Dir   string         `json:"dir"`
	Stats history.Stats  `json:"stats"`
	Runs  []*history.Run `json:"runs"`
}

type ruleInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// formatReport renders a run for the terminal. maxChanges <= 0 lists every change.
func formatReport(r *Report, maxChanges int) string {
	var sb strings.Builder

	if r.Skipped {
		sb.WriteString(fmt.Sprintf("%s unchanged since the last pictofix run, skipped\n", r.File))
		return sb.String()
	}

	switch r.Command {
	case commandReorder:
		sb.WriteString(fmt.Sprintf("Reorder %s: %d of %d records reordered\n", r.File, r.Changed, r.Records))
	default:
		sb.WriteString(fmt.Sprintf("Normalize %s (%s): %d of %d bonuses corrected\n", r.File, r.Profile, r.Changed, r.Records))
	}

	shown := len(r.Changes)
	if maxChanges > 0 && shown > maxChanges {
		shown = maxChanges
	}
	for _, c := range r.Changes[:shown] {
		addChange(&sb, c)
	}
	if rest := len(r.Changes) - shown; rest > 0 {
		sb.WriteString(fmt.Sprintf("\t... and %d more\n", rest))
	}

	if len(r.Duplicates) > 0 {
		sb.WriteString(fmt.Sprintf("Warning: duplicate ids %s\n", strings.Join(r.Duplicates, ", ")))
	}

	switch {
	case r.DryRun:
		sb.WriteString("Dry run, nothing written\n")
	case r.Written && r.RunID != "":
		sb.WriteString(fmt.Sprintf("Saved. Undo with: pictofix restore %s\n", r.RunID))
	case r.Written:
		sb.WriteString("Saved\n")
	default:
		sb.WriteString("Already clean, nothing written\n")
	}
	return sb.String()
}

func addChange(sb *strings.Builder, c models.Change) {
	sb.WriteString("\t[")
	sb.WriteString(strconv.Itoa(c.Index))
	sb.WriteString("]")
	if c.RecordID != "" {
		sb.WriteString(" id ")
		sb.WriteString(c.RecordID)
	}
	if len(c.Rules) > 0 {
		names := make([]string, 0, len(c.Rules))
		for _, id := range c.Rules {
			names = append(names, id.String())
		}
		sb.WriteString(" (")
		sb.WriteString(strings.Join(names, ", "))
		sb.WriteString(")")
	}
	sb.WriteString("\n\t\t- ")
	sb.WriteString(strconv.Quote(c.Before))
	sb.WriteString("\n\t\t+ ")
	sb.WriteString(strconv.Quote(c.After))
	sb.WriteString("\n")
}

func formatHistory(out HistoryOutput) string {
	var sb strings.Builder
	sb.WriteString("History Statistics:\n")
	sb.WriteString("====================\n")
	sb.WriteString(fmt.Sprintf("Runs recorded:     %d\n", out.Stats.Runs))
	sb.WriteString(fmt.Sprintf("Snapshots:         %d (%.2f MB)\n", out.Stats.Snapshots, float64(out.Stats.SnapshotBytes)/(1024*1024)))
	sb.WriteString(fmt.Sprintf("Bonuses corrected: %d\n", out.Stats.Changed))
	sb.WriteString(fmt.Sprintf("Datasets tracked:  %d\n", out.Stats.Files))
	sb.WriteString(fmt.Sprintf("\nHistory location: %s\n", out.Dir))

	if len(out.Runs) == 0 {
		sb.WriteString("\nNo runs recorded yet\n")
		return sb.String()
	}

	sb.WriteString("\n")
	for _, run := range out.Runs {
		sb.WriteString(fmt.Sprintf("%s  %s  %-9s changed %-4d %s",
			run.ID, run.StartedAt.Format(time.DateTime), run.Command, run.Changed, run.Path))
		if run.RestoredFrom != "" {
			sb.WriteString(" <- " + run.RestoredFrom)
		}
		if !run.Snapshot {
			sb.WriteString(" (no snapshot)")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func listRules(cfg *Config) []ruleInfo {
	rules := make([]ruleInfo, 0, len(models.AllRules()))
	for _, id := range models.AllRules() {
		rules = append(rules, ruleInfo{
			Name:        id.String(),
			Description: id.Description(),
			Enabled:     cfg.GetRuleConfig(id).Enabled,
		})
	}
	return rules
}

func formatRules(cfg *Config) string {
	var sb strings.Builder
	sb.WriteString("Available Rules:\n")
	sb.WriteString("====================\n")
	for _, r := range listRules(cfg) {
		mark := "•"
		if !r.Enabled {
			mark = "○"
		}
		sb.WriteString(fmt.Sprintf("%s %-22s %s\n", mark, r.Name, r.Description))
	}

	sb.WriteString("\nProfiles:\n")
	for _, p := range normalizer.Profiles() {
		n, err := normalizer.New(cfg.NormalizerOptions(string(p)))
		if err != nil {
			continue
		}
		passes := make([]string, 0, 2)
		for _, pass := range n.Passes() {
			names := make([]string, 0, len(pass))
			for _, id := range pass {
				names = append(names, id.String())
			}
			passes = append(passes, strings.Join(names, " > "))
		}
		sb.WriteString(fmt.Sprintf("  %-9s %s\n", p, strings.Join(passes, " | ")))
	}
	return sb.String()
}
