package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"consentline/internal/domain"
	"consentline/internal/engine"
	"consentline/internal/repo"
)

func decisionCmd() *cobra.Command {
	dec := &cobra.Command{
		Use:   "decision",
		Short: "Manage decisions",
		Long:  "A decision is drafted, launched with a deadline, closed with a result, then optionally marked implemented or archived.",
	}
	dec.AddCommand(decisionCreateCmd())
	dec.AddCommand(decisionListCmd())
	dec.AddCommand(decisionShowCmd())
	dec.AddCommand(decisionUpdateCmd())
	dec.AddCommand(decisionDeleteCmd())
	dec.AddCommand(decisionLaunchCmd())
	dec.AddCommand(decisionCloseCmd())
	dec.AddCommand(decisionReopenCmd())
	dec.AddCommand(decisionStatusCmd())
	dec.AddCommand(decisionAmendCmd())
	dec.AddCommand(decisionTimelineCmd())
	return dec
}

func decisionCreateCmd() *cobra.Command {
	var opts engine.CreateOptions
	var algorithm, mode, layout string
	var binding bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Algorithm = domain.Algorithm(strings.ToUpper(algorithm))
			opts.Mode = domain.Mode(strings.ToUpper(mode))
			opts.Layout = domain.StageLayout(strings.ToUpper(layout))
			if cmd.Flags().Changed("binding-deadline") {
				opts.BindingDeadline = &binding
			}
			opts.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.CreateDecision(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "CONSENSUS, CONSENT, MAJORITY, SUPERMAJORITY, NUANCED or ADVISORY")
	cmd.Flags().StringVar(&mode, "mode", "INVITED", "INVITED or ANONYMOUS")
	cmd.Flags().StringVar(&layout, "layout", "", "CONSENT stage layout: MERGED or DISTINCT")
	cmd.Flags().IntVar(&opts.Scale, "scale", 0, "NUANCED scale: 3, 5 or 7")
	cmd.Flags().IntVar(&opts.WinnerCount, "winners", 0, "NUANCED winner count")
	cmd.Flags().BoolVar(&binding, "binding-deadline", false, "ADVISORY: close automatically at the deadline")
	cmd.Flags().StringArrayVar(&opts.Proposals, "proposal", nil, "proposal title (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("algorithm")
	return cmd
}

func decisionListCmd() *cobra.Command {
	var f repo.DecisionFilter
	var status, algorithm, endsAfter, endsBefore string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.Status(strings.ToUpper(status))
			f.Algorithm = domain.Algorithm(strings.ToUpper(algorithm))
			var err error
			if f.EndAfter, err = parseOptionalTime("--ends-after", endsAfter); err != nil {
				return err
			}
			if f.EndBefore, err = parseOptionalTime("--ends-before", endsBefore); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListDecisions(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Title", "Algorithm", "Mode", "Status", "Stage", "Result", "Ends"})
				for _, d := range items {
					ends := ""
					if d.EndTime != nil {
						ends = d.EndTime.Format(time.RFC3339)
					}
					tw.AppendRow(table.Row{d.ID, d.Title, d.Algorithm, d.Mode, d.Status, deref(d.CurrentStage), deref(d.Result), ends})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "algorithm filter")
	cmd.Flags().StringVar(&f.CreatorID, "creator", "", "creator filter")
	cmd.Flags().StringVar(&endsAfter, "ends-after", "", "only decisions whose deadline is after this time (RFC3339)")
	cmd.Flags().StringVar(&endsBefore, "ends-before", "", "only decisions whose deadline is before this time (RFC3339)")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func parseOptionalTime(flag, v string) (*time.Time, error) {
	if strings.TrimSpace(v) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(v))
	if err != nil {
		return nil, fmt.Errorf("%s must be RFC3339: %w", flag, err)
	}
	return &t, nil
}

func decisionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a decision with its participants and proposals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.GetDecision(ctx, args[0])
				if err != nil {
					return err
				}
				participants, err := e.ListParticipants(ctx, d.ID)
				if err != nil {
					return err
				}
				proposals, err := e.ListProposals(ctx, d.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"decision":     d,
					"participants": participants,
					"proposals":    proposals,
				})
			})
		},
	}
	return cmd
}

func decisionUpdateCmd() *cobra.Command {
	var title, description string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit a draft's title or description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.UpdateOptions{ID: args[0], ActorID: actorID()}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.UpdateDecision(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	return cmd
}

func decisionDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteDraft(ctx, args[0], actorID())
			})
		},
	}
	return cmd
}

func decisionLaunchCmd() *cobra.Command {
	var end string
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "launch <id>",
		Short: "Open a draft for voting until --end",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := endTime(end, duration)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.LaunchDecision(ctx, args[0], at, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&end, "end", "", "deadline (RFC3339)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "deadline relative to now, e.g. 72h")
	return cmd
}

func decisionCloseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close an open decision now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.CloseDecision(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	return cmd
}

func decisionReopenCmd() *cobra.Command {
	var end string
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "reopen <id>",
		Short: "Reopen a closed decision with a new deadline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := endTime(end, duration)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.ReopenDecision(ctx, args[0], at, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&end, "end", "", "new deadline (RFC3339)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "new deadline relative to now")
	return cmd
}

func decisionStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id> <IMPLEMENTED|ARCHIVED>",
		Short: "Move a decided decision forward",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.SetStatus(ctx, args[0], domain.Status(strings.ToUpper(args[1])), actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	return cmd
}

func decisionAmendCmd() *cobra.Command {
	var title, description string
	cmd := &cobra.Command{
		Use:   "amend <id> <AMENDED|KEPT|WITHDRAWN>",
		Short: "Record the creator's amendment action on a consent decision",
		Long:  "AMENDED takes the amended proposal through --title and/or --description.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.AmendmentOptions{
				ID:      args[0],
				Action:  domain.AmendmentAction(strings.ToUpper(args[1])),
				ActorID: actorID(),
			}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.SetAmendmentAction(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "amended title")
	cmd.Flags().StringVar(&description, "description", "", "amended description")
	return cmd
}

func decisionTimelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline <id>",
		Short: "Show the stage windows of a consent decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				windows, err := e.Timeline(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(windows)
				}
				tw := newTable(table.Row{"Stage", "Start", "End", ""})
				for _, w := range windows {
					marker := ""
					switch {
					case w.IsActive:
						marker = "active"
					case w.IsPast:
						marker = "past"
					}
					tw.AppendRow(table.Row{w.Stage, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339), marker})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func participantCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "participant",
		Short: "Manage who may vote on an invited decision",
	}
	p.AddCommand(participantAddCmd())
	p.AddCommand(participantRemoveCmd())
	p.AddCommand(participantListCmd())
	return p
}

func participantAddCmd() *cobra.Command {
	var user, email string
	cmd := &cobra.Command{
		Use:   "add <decision-id>",
		Short: "Invite a member (--user) or an outsider (--email)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.AddParticipant(ctx, engine.ParticipantOptions{
					DecisionID:   args[0],
					UserID:       user,
					InviteeEmail: email,
					ActorID:      actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "member user id")
	cmd.Flags().StringVar(&email, "email", "", "invitee email")
	return cmd
}

func participantRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <decision-id> <participant-id>",
		Short: "Remove a participant from a draft",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveParticipant(ctx, args[0], args[1], actorID())
			})
		},
	}
	return cmd
}

func participantListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <decision-id>",
		Short: "List participants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListParticipants(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "User", "Email", "Voted"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, deref(p.UserID), deref(p.InviteeEmail), p.HasVoted})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func proposalCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "proposal",
		Short: "Manage proposals of majority and nuanced decisions",
	}
	p.AddCommand(proposalAddCmd())
	p.AddCommand(proposalListCmd())
	return p
}

func proposalAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <decision-id> <title>",
		Short: "Add a proposal to a draft",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.AddProposal(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func proposalListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <decision-id>",
		Short: "List proposals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProposals(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"#", "ID", "Title"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.Position, p.ID, p.Title})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func ballotCmd() *cobra.Command {
	b := &cobra.Command{
		Use:   "ballot",
		Short: "Cast and inspect ballots",
	}
	b.AddCommand(ballotCastCmd())
	b.AddCommand(ballotListCmd())
	return b
}

func ballotCastCmd() *cobra.Command {
	var value, objection, text, proposal, email, dedupKey string
	var mentions []string
	var withdraw bool
	cmd := &cobra.Command{
		Use:   "cast <decision-id>",
		Short: "Cast or change the actor's ballot",
		Long: `The flags used depend on the decision's algorithm:
  CONSENSUS       --value AGREE|DISAGREE
  ADVISORY        --value AGREE|DISAGREE [--text]
  CONSENT         --objection NO_OBJECTION|OBJECTION|NO_POSITION [--text] [--withdraw]
  (SUPER)MAJORITY --proposal <proposal-id>
  NUANCED         --mention <proposal-id>=<level> for every proposal
Anonymous decisions identify the voter by --dedup-key (default: the actor id).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := domain.BallotPayload{
				Value:      domain.BinaryValue(strings.ToUpper(value)),
				Objection:  domain.ObjectionStatus(strings.ToUpper(objection)),
				Text:       text,
				ProposalID: proposal,
			}
			if len(mentions) > 0 {
				parsed, err := parseMentions(mentions)
				if err != nil {
					return err
				}
				payload.Mentions = parsed
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.RecordBallot(ctx, engine.BallotInput{
					DecisionID:   args[0],
					UserID:       actorID(),
					InviteeEmail: email,
					DedupKey:     dedupKey,
					Payload:      payload,
					Withdraw:     withdraw,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "AGREE or DISAGREE")
	cmd.Flags().StringVar(&objection, "objection", "", "NO_OBJECTION, OBJECTION or NO_POSITION")
	cmd.Flags().StringVar(&text, "text", "", "objection reason or advisory comment")
	cmd.Flags().StringVar(&proposal, "proposal", "", "chosen proposal id")
	cmd.Flags().StringArrayVar(&mentions, "mention", nil, "proposal-id=level (repeatable)")
	cmd.Flags().BoolVar(&withdraw, "withdraw", false, "withdraw a consent objection")
	cmd.Flags().StringVar(&email, "email", "", "vote as this invitee email")
	cmd.Flags().StringVar(&dedupKey, "dedup-key", "", "voter key for anonymous decisions")
	return cmd
}

func parseMentions(raw []string) (map[string]int, error) {
	out := make(map[string]int, len(raw))
	for _, item := range raw {
		id, level, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("--mention %q must be proposal-id=level", item)
		}
		n, err := strconv.Atoi(strings.TrimSpace(level))
		if err != nil {
			return nil, fmt.Errorf("--mention %q: level must be an integer", item)
		}
		out[strings.TrimSpace(id)] = n
	}
	return out, nil
}

func ballotListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <decision-id>",
		Short: "List ballots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListBallots(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Participant", "Payload", "Withdrawn", "Updated"})
				for _, b := range items {
					tw.AppendRow(table.Row{b.ID, deref(b.ParticipantID), describePayload(b.Payload), b.Withdrawn, b.UpdatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func describePayload(p domain.BallotPayload) string {
	var parts []string
	if p.Value != "" {
		parts = append(parts, string(p.Value))
	}
	if p.Objection != "" {
		parts = append(parts, string(p.Objection))
	}
	if p.ProposalID != "" {
		parts = append(parts, "proposal="+p.ProposalID)
	}
	for id, m := range p.Mentions {
		parts = append(parts, fmt.Sprintf("%s=%d", id, m))
	}
	if p.Text != "" {
		parts = append(parts, strconv.Quote(p.Text))
	}
	return strings.Join(parts, " ")
}

func commentCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "comment",
		Short: "Clarification questions, opinions and general comments",
	}
	c.AddCommand(commentAddCmd())
	c.AddCommand(commentListCmd())
	return c
}

func commentAddCmd() *cobra.Command {
	var kind, body, email string
	cmd := &cobra.Command{
		Use:   "add <decision-id>",
		Short: "Post a comment on an open decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.PostComment(ctx, engine.CommentOptions{
					DecisionID:   args[0],
					Kind:         domain.CommentKind(strings.ToUpper(kind)),
					Body:         body,
					ActorID:      actorID(),
					InviteeEmail: email,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "GENERAL", "CLARIFICATION, OPINION or GENERAL")
	cmd.Flags().StringVar(&body, "body", "", "comment text")
	cmd.Flags().StringVar(&email, "email", "", "comment as this invitee email")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}

func commentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <decision-id>",
		Short: "List comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListComments(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"Kind", "Author", "Body", "At"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.Kind, c.AuthorID, c.Body, c.CreatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}
