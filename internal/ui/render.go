package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/jukebox/internal/catalog"
	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/shared"
	"github.com/desertthunder/jukebox/internal/tasks"
)

const barWidth = 24

// Header renders a section title.
func (p *Palette) Header(title string) string {
	return p.Title.Render(title)
}

// Check renders a success line.
func (p *Palette) Check(format string, args ...any) string {
	return p.OK.Render("✓") + " " + fmt.Sprintf(format, args...)
}

// Cross renders a failure line.
func (p *Palette) Cross(format string, args ...any) string {
	return p.Err.Render("✗") + " " + fmt.Sprintf(format, args...)
}

// Item renders one catalog item on a single line: name, type specific details and its URI.
func (p *Palette) Item(item models.MediaItem) string {
	b := item.Base()
	var details []string
	switch v := item.(type) {
	case *models.Track:
		if a := v.ArtistName(); a != "" {
			details = append(details, a)
		}
		if al := v.AlbumName(); al != "" {
			details = append(details, al)
		}
		if v.Duration > 0 {
			details = append(details, shared.FormatDuration(v.Duration))
		}
	case *models.Album:
		if v.Artist != nil {
			details = append(details, v.Artist.Name)
		}
		if b.Metadata.Year > 0 {
			details = append(details, fmt.Sprint(b.Metadata.Year))
		}
	case *models.Playlist:
		if v.Owner != "" {
			details = append(details, v.Owner)
		}
	}

	line := lipgloss.NewStyle().Bold(true).Render(b.Name)
	if len(details) > 0 {
		line += " " + p.Help.Render(strings.Join(details, " · "))
	}
	if b.InLibrary {
		line += " " + p.OK.Render("♥")
	}
	return line + "\n  " + p.Warn.Render(models.URIOf(item))
}

// Providers renders the provider table of an aggregator.
func (p *Palette) Providers(statuses []catalog.ProviderStatus) string {
	var sb strings.Builder
	for _, s := range statuses {
		mark := p.OK.Render("●")
		if !s.Enabled {
			mark = p.Err.Render("○")
		}
		fmt.Fprintf(&sb, "%s %-12s %-10s %s\n", mark, s.ID, s.Type, s.Name)
		if s.Err != nil {
			fmt.Fprintf(&sb, "    %s\n", p.Err.Render(s.Err.Error()))
		} else {
			fmt.Fprintf(&sb, "    %s\n", p.Help.Render(s.Features.String()))
		}
	}
	return sb.String()
}

// Progress renders a progress bar; total 0 renders just the message.
func (p *Palette) Progress(u tasks.ProgressUpdate) string {
	prefix := ""
	if u.Provider != "" {
		prefix = p.Title.Render(u.Provider) + " "
	}
	if u.Total <= 0 {
		return prefix + u.Message
	}
	return fmt.Sprintf("%s%s %d/%d %s", prefix, Bar(u.Step, u.Total, barWidth), u.Step, u.Total, u.Message)
}

// Bar renders a fixed-width bar for step out of total.
func Bar(step, total, width int) string {
	if total <= 0 || width <= 0 {
		return ""
	}
	filled := min(max(step, 0)*width/total, width)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

// Status renders a player status block.
func (p *Palette) Status(s models.PlayerStatus) string {
	var sb strings.Builder

	state := p.Help.Render(string(s.State))
	switch {
	case !s.Powered:
		state = p.Err.Render("off")
	case s.State == models.StatePlaying:
		state = p.OK.Render(string(s.State))
	case s.State == models.StatePaused:
		state = p.Warn.Render(string(s.State))
	}
	fmt.Fprintf(&sb, "%s %s  volume %d\n", p.Header(s.Name), state, s.VolumeLevel)

	if s.CurrentItem != nil {
		d := s.CurrentItem.Duration()
		fmt.Fprintf(&sb, "  %s (%d/%d)\n", s.CurrentItem.Name(), s.CurrentIndex+1, s.QueueLength)
		if d > 0 {
			fmt.Fprintf(&sb, "  %s %s / %s\n", Bar(s.ElapsedTime, d, barWidth), shared.FormatDuration(s.ElapsedTime), shared.FormatDuration(d))
		}
	}

	settings := fmt.Sprintf("shuffle %v · repeat %s", s.Settings.Shuffle, s.Settings.Repeat)
	if s.Settings.CrossfadeEnabled() {
		settings += fmt.Sprintf(" · crossfade %ds %s", s.Settings.CrossfadeDuration, s.Settings.CrossfadeMode)
	}
	sb.WriteString("  " + p.Help.Render(settings) + "\n")
	return sb.String()
}

// Report renders the summary of a library sync.
func (p *Palette) Report(report *tasks.SyncReport) string {
	var sb strings.Builder
	for _, res := range report.Results {
		if res.Err != nil {
			sb.WriteString(p.Cross("%s: %v", res.Provider, res.Err) + "\n")
			continue
		}
		sb.WriteString(p.Check("%s: %d items, %d removed, %d failed in %s", res.Provider, res.Total(), res.Removed, res.Failed, res.Duration.Round(time.Millisecond)) + "\n")
	}
	return sb.String()
}
