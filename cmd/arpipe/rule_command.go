package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/bnema/arpipe/internal/domain"
	"github.com/spf13/cobra"
)

func newRuleCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Manage rotation rules",
	}
	cmd.AddCommand(newRuleSetCommand(ctx))
	cmd.AddCommand(newRuleListCommand(ctx))
	cmd.AddCommand(newRuleDeleteCommand(ctx))
	cmd.AddCommand(newContentTimezoneCommand(ctx))
	return cmd
}

func newRuleSetCommand(ctx *commandContext) *cobra.Command {
	var timezone string
	var dates, cycle, pool []string

	cmd := &cobra.Command{
		Use:   "set <content-id> <date_specific|daily_cycle|random_daily>",
		Short: "Create or replace the rule of one kind",
		Long: "A content item holds at most one rule per kind; setting a kind again replaces it.\n" +
			"date_specific takes --date YYYY-MM-DD=<video-id> (repeatable), daily_cycle takes\n" +
			"--cycle <ids> and random_daily takes --pool <ids>.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rule, err := buildRule(args[0], args[1], timezone, dates, cycle, pool)
			if err != nil {
				return err
			}
			return ctx.withApp(func(a *app) error {
				if err := a.resolver.SaveRule(cmd.Context(), rule); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), rule.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone for the rule's calendar day")
	cmd.Flags().StringArrayVar(&dates, "date", nil, "Date mapping YYYY-MM-DD=<video-id>")
	cmd.Flags().StringSliceVar(&cycle, "cycle", nil, "Ordered video ids for daily_cycle")
	cmd.Flags().StringSliceVar(&pool, "pool", nil, "Candidate video ids for random_daily")

	return cmd
}

// buildRule assembles a rule from CLI arguments, rejecting flags that do
// not belong to kind.
func buildRule(contentID, kind, timezone string, dates, cycle, pool []string) (*domain.RotationRule, error) {
	k, err := domain.ParseRuleKind(kind)
	if err != nil {
		return nil, err
	}
	rule := &domain.RotationRule{ContentID: contentID, Kind: k, Timezone: timezone}

	switch k {
	case domain.RuleKindDateSpecific:
		if len(dates) == 0 || len(cycle) > 0 || len(pool) > 0 {
			return nil, fmt.Errorf("%s takes only --date", k)
		}
		for _, raw := range dates {
			day, videoID, ok := strings.Cut(raw, "=")
			if !ok || strings.TrimSpace(videoID) == "" {
				return nil, fmt.Errorf("malformed --date %q, want YYYY-MM-DD=<video-id>", raw)
			}
			d, err := domain.ParseDate(strings.TrimSpace(day))
			if err != nil {
				return nil, err
			}
			rule.DateVideos = append(rule.DateVideos, domain.DateVideo{Date: d, VideoID: strings.TrimSpace(videoID)})
		}
	case domain.RuleKindDailyCycle:
		if len(cycle) == 0 || len(dates) > 0 || len(pool) > 0 {
			return nil, fmt.Errorf("%s takes only --cycle", k)
		}
		rule.CycleIDs = cycle
	case domain.RuleKindRandomDaily:
		if len(pool) == 0 || len(dates) > 0 || len(cycle) > 0 {
			return nil, fmt.Errorf("%s takes only --pool", k)
		}
		rule.PoolIDs = pool
	}

	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return rule, nil
}

func newRuleListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list <content-id>",
		Short: "List rotation rules in precedence order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app) error {
				rules, err := a.resolver.ListRules(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, rules)
				}
				if len(rules) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No rotation rules")
					return nil
				}
				rows := make([][]string, 0, len(rules))
				for _, r := range rules {
					rows = append(rows, []string{r.ID, string(r.Kind), orDash(r.Timezone), describeRule(r)})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Kind", "Timezone", "Videos"}, rows, nil,
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print rules as JSON")
	return cmd
}

func newRuleDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <content-id> <rule-id>",
		Short: "Delete a rotation rule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app) error {
				return a.resolver.DeleteRule(cmd.Context(), args[0], args[1])
			})
		},
	}
}

func newContentTimezoneCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "timezone <content-id> <iana-timezone>",
		Short: "Set the content item's default timezone for rule evaluation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := time.LoadLocation(args[1]); err != nil {
				return fmt.Errorf("invalid timezone %q: %w", args[1], err)
			}
			return ctx.withApp(func(a *app) error {
				return a.resolver.SaveContent(cmd.Context(), &domain.Content{ID: args[0], Timezone: args[1]})
			})
		},
	}
}

func describeRule(r domain.RotationRule) string {
	switch r.Kind {
	case domain.RuleKindDateSpecific:
		parts := make([]string, 0, len(r.DateVideos))
		for _, dv := range r.DateVideos {
			parts = append(parts, dv.Date.String()+"="+dv.VideoID)
		}
		return strings.Join(parts, ", ")
	case domain.RuleKindDailyCycle:
		return strings.Join(r.CycleIDs, " > ")
	default:
		return strings.Join(r.PoolIDs, ", ")
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
