package slackbot

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/bernsmp/zed-seo-tool/internal/config"
	"github.com/bernsmp/zed-seo-tool/internal/domain"
)

// Poster is the slice of the Slack client the notifier needs.
type Poster interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
}

// Notifier posts job summaries to one channel.
type Notifier struct {
	api       Poster
	channelID string
}

// NewNotifier returns nil when Slack is not configured.
func NewNotifier(cfg config.Config) *Notifier {
	if !cfg.SlackConfigured() {
		return nil
	}
	return New(slack.New(cfg.SlackBotToken), cfg.SlackChannelID)
}

func New(api Poster, channelID string) *Notifier {
	return &Notifier{api: api, channelID: channelID}
}

// JobFinished posts the summary of a finished or failed job. A nil notifier does nothing.
func (n *Notifier) JobFinished(summary domain.Summary, jobErr error) error {
	if n == nil {
		return nil
	}
	_, _, err := n.api.PostMessage(n.channelID, slack.MsgOptionText(FormatSummary(summary, jobErr), false))
	if err != nil {
		log.Printf("slack notify error job=%s client=%s err=%v", summary.JobID, summary.ClientID, err)
		return fmt.Errorf("post job summary: %w", err)
	}
	log.Printf("slack notify sent job=%s client=%s channel=%s", summary.JobID, summary.ClientID, n.channelID)
	return nil
}

func FormatSummary(s domain.Summary, jobErr error) string {
	var b strings.Builder
	status := ":white_check_mark:"
	if jobErr != nil {
		status = ":x:"
	} else if s.Degraded() > 0 {
		status = ":warning:"
	}
	fmt.Fprintf(&b, "%s *%s* job for *%s* (`%s`)\n", status, s.JobType, s.ClientID, s.JobID)
	fmt.Fprintf(&b, "• %d results: %d from model, %d filtered, %d parse errors, %d in failed batches\n",
		s.Total, s.FromLLM, s.FromFilter, s.ParseErrors, s.BatchFailures)

	if len(s.ByLabel) > 0 {
		var parts []string
		for _, label := range []string{"KEEP", "REMOVE", "UNSURE", "EXISTING_URL", "NEW_PAGE", "BLOG_POST", "UNMAPPED", "clusters"} {
			if n, ok := s.ByLabel[label]; ok {
				parts = append(parts, fmt.Sprintf("%s %d", label, n))
			}
		}
		if len(parts) > 0 {
			fmt.Fprintf(&b, "• %s\n", strings.Join(parts, " · "))
		}
	}
	if s.QCScore != "" {
		fmt.Fprintf(&b, "• QC score %s, %d flagged for review\n", s.QCScore, s.Flagged)
	}
	fmt.Fprintf(&b, "• %d calls, %d tokens, $%.4f, %s", s.Usage.Calls, s.Usage.TotalTokens(), s.CostUSD, s.Duration.Round(time.Second))
	if s.Resumed {
		b.WriteString(" (resumed from checkpoint)")
	}
	if jobErr != nil {
		fmt.Fprintf(&b, "\n• error: %v", jobErr)
	}
	return b.String()
}
