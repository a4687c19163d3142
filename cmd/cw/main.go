package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "colonywars/internal/cli"
	"colonywars/internal/config"
	"colonywars/internal/game"
	"colonywars/internal/ledger"
	"colonywars/internal/syncq"

	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "cw",
		Short:        "Colony Wars command center",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newLoginCmd(&apiBase, cfg.Address),
		newLogoutCmd(),
		newWhoamiCmd(&apiBase),
		newSeasonCmd(&apiBase),
		newColonyCmd(&apiBase),
		newAllianceCmd(&apiBase),
		newSquadCmd(&apiBase),
		newTerritoryCmd(&apiBase),
		newBattleCmd(&apiBase),
		newEventsCmd(&apiBase),
		newAdminCmd(&apiBase),
		newSyncCmd(&apiBase),
		newWatchCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// session loads the saved profile and a client acting as it. A profile saved
// with its own API base wins over the default but not over --api.
func session(cmd *cobra.Command, apiBase *string) (cl.Profile, *cl.Client, error) {
	prof, err := cl.LoadProfile()
	if err != nil {
		return cl.Profile{}, nil, err
	}
	base := strings.TrimSpace(*apiBase)
	if prof.APIBaseURL != "" && !cmd.Flags().Changed("api") {
		base = prof.APIBaseURL
	}
	return prof, cl.NewClient(base, prof.Address), nil
}

func newLoginCmd(apiBase *string, defaultAddress string) *cobra.Command {
	return &cobra.Command{
		Use:   "login [address]",
		Short: "Save the address you play as",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := defaultAddress
			if len(args) > 0 {
				addr = args[0]
			}
			if strings.TrimSpace(addr) == "" {
				var err error
				if addr, err = promptRequired("Address"); err != nil {
					return err
				}
			}
			prof := cl.Profile{Address: ledger.NormalizeAddress(addr)}
			if cmd.Flags().Changed("api") {
				prof.APIBaseURL = strings.TrimRight(strings.TrimSpace(*apiBase), "/")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := cl.NewClient(*apiBase, prof.Address)
			primary, err := client.PrimaryColony(ctx, prof.Address)
			switch {
			case err == nil:
				prof.PrimaryColony = primary
			case cl.IsAPIError(err):
				// No primary colony yet.
			default:
				printWarn(fmt.Sprintf("Could not reach %s: %v", *apiBase, err))
			}
			if err := cl.SaveProfile(prof); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Playing as %s.", prof.Address))
			if !prof.PrimaryColony.IsZero() {
				printInfo("Primary colony: " + prof.PrimaryColony.String())
			}
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved address",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearProfile(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newWhoamiCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the saved profile and its primary colony overview",
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			accent.Printf("\n== %s ==\n", prof.Address)
			fmt.Printf("API:             %s\n", client.BaseURL)
			if prof.PrimaryColony.IsZero() {
				printInfo("No primary colony. Register one with `cw colony register`.")
				return nil
			}
			fmt.Printf("Primary colony:  %s\n", prof.PrimaryColony)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			ov, err := client.Overview(ctx, prof.PrimaryColony)
			if err != nil {
				return err
			}
			renderOverview(ov)
			return nil
		},
	}
}

func newSeasonCmd(apiBase *string) *cobra.Command {
	season := &cobra.Command{
		Use:   "season",
		Short: "Show the current season",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.Season(ctx)
			if err != nil {
				return err
			}
			renderSeason(out)
			return nil
		},
	}

	var (
		registration, warfare, resolution time.Duration
		prize                             int64
	)
	start := &cobra.Command{
		Use:   "start",
		Short: "Start a new season (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.Do(ctx, "POST", "/v1/admin/seasons", client.Caller, map[string]any{
				"start":        time.Now().UTC(),
				"registration": registration.String(),
				"warfare":      warfare.String(),
				"resolution":   resolution.String(),
				"prize_pool":   prize,
			})
			if err != nil {
				return err
			}
			s, err := decodeInto[ledger.Season](out)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Season %d started. Warfare opens %s.", s.ID, s.RegistrationEnd.Local().Format(time.RFC1123)))
			return nil
		},
	}
	start.Flags().DurationVar(&registration, "registration", 24*time.Hour, "registration phase length")
	start.Flags().DurationVar(&warfare, "warfare", 72*time.Hour, "warfare phase length")
	start.Flags().DurationVar(&resolution, "resolution", 24*time.Hour, "resolution phase length")
	start.Flags().Int64Var(&prize, "prize", 0, "initial prize pool")

	end := &cobra.Command{
		Use:   "end",
		Short: "End the active season (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return adminPost(cmd, apiBase, "/v1/admin/seasons/end", map[string]any{}, "Season ended.")
		},
	}
	season.AddCommand(start, end)
	return season
}

func newColonyCmd(apiBase *string) *cobra.Command {
	colony := &cobra.Command{
		Use:     "colony",
		Short:   "Colony registration and strategy",
		Aliases: []string{"col"},
	}

	colony.AddCommand(&cobra.Command{
		Use:   "register <colony> [stake]",
		Short: "Register a colony you created for the current season",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			id, err := cl.ResolveID("colony", args[0])
			if err != nil {
				return err
			}
			stake, err := int64FromArgOrPrompt(args, 1, "Defensive stake")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			p, err := client.RegisterColony(ctx, id, stake)
			if err != nil {
				return err
			}
			if prof.PrimaryColony.IsZero() {
				prof.PrimaryColony = id
				if err := cl.SaveProfile(prof); err != nil {
					return err
				}
			}
			printSuccess(fmt.Sprintf("Colony %s registered with stake %s.", id.Short(), comma(p.DefensiveStake)))
			return nil
		},
	})

	colony.AddCommand(&cobra.Command{
		Use:   "primary <colony>",
		Short: "Make a colony your primary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			id, err := cl.ResolveID("colony", args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := client.SetPrimary(ctx, id); err != nil {
				return err
			}
			prof.PrimaryColony = id
			if err := cl.SaveProfile(prof); err != nil {
				return err
			}
			printSuccess("Primary colony set to " + id.String())
			return nil
		},
	})

	colony.AddCommand(&cobra.Command{
		Use:   "overview [colony]",
		Short: "Strategic overview, threat level and advice",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			id, err := colonyArg(args, 0, prof)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			ov, err := client.Overview(ctx, id)
			if err != nil {
				return err
			}
			renderOverview(ov)
			return nil
		},
	})

	colony.AddCommand(&cobra.Command{
		Use:   "reinforce [amount]",
		Short: "Add to your primary colony's defensive stake",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			id, err := colonyArg(nil, 0, prof)
			if err != nil {
				return err
			}
			amount, err := int64FromArgOrPrompt(args, 0, "Amount")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			p, err := client.Reinforce(ctx, id, amount)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method: "POST",
					Path:   "/v1/colonies/" + id.String() + "/reinforce",
					Body:   map[string]any{"amount": amount},
					Caller: prof.Address,
				})
			}
			printSuccess(fmt.Sprintf("Defensive stake now %s (%d reinforcements).", comma(p.DefensiveStake), p.StakeIncreases))
			return nil
		},
	})

	colony.AddCommand(&cobra.Command{
		Use:   "withdraw [colony]",
		Short: "Withdraw from warfare, forfeiting territories and part of the stake",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			id, err := colonyArg(args, 0, prof)
			if err != nil {
				return err
			}
			if !confirm(fmt.Sprintf("Withdraw colony %s from this season?", id.Short())) {
				printInfo("Cancelled.")
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			res, err := client.Withdraw(ctx, id)
			if err != nil {
				return err
			}
			renderWithdrawal(res)
			return nil
		},
	})

	colony.AddCommand(&cobra.Command{
		Use:   "compare <defender> [attacker]",
		Short: "Compare battle power against another colony",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			defender, err := cl.ResolveID("colony", args[0])
			if err != nil {
				return err
			}
			attacker, err := colonyArg(args, 1, prof)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.BattlePower(ctx, attacker, defender)
			if err != nil {
				return err
			}
			renderBattlePower(out)
			return nil
		},
	})
	return colony
}

func newAllianceCmd(apiBase *string) *cobra.Command {
	alliance := &cobra.Command{
		Use:     "alliance",
		Short:   "Alliance governance",
		Aliases: []string{"al"},
	}

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List alliances",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.Alliances(ctx, all)
			if err != nil {
				return err
			}
			renderAlliances(out)
			return nil
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include disbanded alliances")

	show := &cobra.Command{
		Use:   "show [colony]",
		Short: "Show the alliance a colony belongs to",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			id, err := colonyArg(args, 0, prof)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			al, err := client.AllianceOf(ctx, id)
			if err != nil {
				return err
			}
			bonus, err := client.Bonuses(ctx, id)
			if err != nil {
				return err
			}
			renderAlliance(al, &bonus)
			if proposal, err := client.Proposal(ctx, al.ID); err == nil && proposal.Active {
				renderProposal(proposal)
			}
			return nil
		},
	}

	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Found an alliance led by your primary colony",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			id, err := colonyArg(nil, 0, prof)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			al, err := client.CreateAlliance(ctx, args[0], id)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Alliance %q founded (%s).", al.Name, al.ID))
			return nil
		},
	}

	join := &cobra.Command{
		Use:   "join <alliance-id>",
		Short: "Join an open alliance with your primary colony",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			colony, err := colonyArg(nil, 0, prof)
			if err != nil {
				return err
			}
			id, err := ledger.ParseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := client.JoinAlliance(ctx, id, colony); err != nil {
				return err
			}
			printSuccess("Joined alliance " + id.Short() + ".")
			return nil
		},
	}

	invite := &cobra.Command{
		Use:   "invite <colony>",
		Short: "Invite a colony into your alliance (leader)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			target, err := cl.ResolveID("colony", args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			inv, err := client.Invite(ctx, target)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Invitation sent to %s, expires %s.", target.Short(), inv.Expiry.Local().Format(time.RFC1123)))
			return nil
		},
	}

	respond := func(use, short string, accept bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " [colony]",
			Short: short,
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				prof, client, err := session(cmd, apiBase)
				if err != nil {
					return err
				}
				id, err := colonyArg(args, 0, prof)
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				if accept {
					err = client.AcceptInvitation(ctx, id)
				} else {
					err = client.DeclineInvitation(ctx, id)
				}
				if err != nil {
					return err
				}
				if accept {
					printSuccess("Invitation accepted.")
				} else {
					printInfo("Invitation declined.")
				}
				return nil
			},
		}
	}

	leave := &cobra.Command{
		Use:   "leave",
		Short: "Leave your alliance",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			if !confirm("Leave your alliance?") {
				printInfo("Cancelled.")
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := client.LeaveAlliance(ctx); err != nil {
				return err
			}
			printSuccess("Left the alliance.")
			return nil
		},
	}

	disband := &cobra.Command{
		Use:   "disband",
		Short: "Disband your alliance (leader)",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			if !confirm("Disband the alliance? The treasury is refunded to you.") {
				printInfo("Cancelled.")
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := client.DisbandAlliance(ctx); err != nil {
				return err
			}
			printSuccess("Alliance disbanded.")
			return nil
		},
	}

	leader := &cobra.Command{
		Use:   "leader <colony>",
		Short: "Hand leadership to another member colony",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			id, err := cl.ResolveID("colony", args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := client.TransferLeadership(ctx, id); err != nil {
				return err
			}
			printSuccess("Leadership transferred to " + id.Short() + ".")
			return nil
		},
	}

	contribute := &cobra.Command{
		Use:   "contribute [amount]",
		Short: "Pay into the shared treasury",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			amount, err := int64FromArgOrPrompt(args, 0, "Amount")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			treasury, err := client.Contribute(ctx, amount)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method: "POST",
					Path:   "/v1/alliance/contribute",
					Body:   map[string]any{"amount": amount},
					Caller: prof.Address,
				})
			}
			printSuccess("Shared treasury now " + comma(treasury) + ".")
			return nil
		},
	}

	aid := &cobra.Command{
		Use:   "aid <colony> [amount]",
		Short: "Send treasury aid to a member colony (leader)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			id, err := cl.ResolveID("colony", args[0])
			if err != nil {
				return err
			}
			amount, err := int64FromArgOrPrompt(args, 1, "Amount")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := client.SendAid(ctx, id, amount); err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method: "POST",
					Path:   "/v1/alliance/aid",
					Body:   map[string]any{"colony": id.String(), "amount": amount},
					Caller: prof.Address,
				})
			}
			printSuccess(fmt.Sprintf("Sent %s to %s.", comma(amount), id.Short()))
			return nil
		},
	}

	betray := &cobra.Command{
		Use:   "betray <colony>",
		Short: "Record a betrayal by a colony that left your alliance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			id, err := cl.ResolveID("colony", args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := client.RecordBetrayal(ctx, id); err != nil {
				return err
			}
			printWarn("Betrayal recorded against " + id.Short() + ".")
			return nil
		},
	}

	forgive := &cobra.Command{
		Use:   "forgive <colony>",
		Short: "Propose forgiving a marked betrayer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			id, err := cl.ResolveID("colony", args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			p, err := client.ProposeForgiveness(ctx, id)
			if err != nil {
				return err
			}
			renderProposal(p)
			return nil
		},
	}

	vote := &cobra.Command{
		Use:   "vote [yes|no]",
		Short: "Vote on the open forgiveness proposal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			choice := ""
			if len(args) > 0 {
				choice = strings.ToLower(strings.TrimSpace(args[0]))
			} else if choice, err = promptChoice("Support forgiveness", []string{"yes", "no"}, "yes"); err != nil {
				return err
			}
			if choice != "yes" && choice != "no" {
				return fmt.Errorf("vote must be yes or no")
			}
			support := choice == "yes"
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			p, err := client.Vote(ctx, support)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method: "POST",
					Path:   "/v1/alliance/forgiveness/vote",
					Body:   map[string]any{"support": support},
					Caller: prof.Address,
				})
			}
			renderProposal(p)
			return nil
		},
	}

	alliance.AddCommand(list, show, create, join, invite,
		respond("accept", "Accept a pending invitation", true),
		respond("decline", "Decline a pending invitation", false),
		leave, disband, leader, contribute, aid, betray, forgive, vote)
	return alliance
}

func newSquadCmd(apiBase *string) *cobra.Command {
	squad := &cobra.Command{
		Use:   "squad [colony]",
		Short: "Show a colony's staked squad",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			id, err := colonyArg(args, 0, prof)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			sq, err := client.Squad(ctx, id)
			if err != nil {
				return err
			}
			renderSquad(sq)
			return nil
		},
	}

	var territory, infra, resource []string
	stake := &cobra.Command{
		Use:     "stake",
		Short:   "Stake a squad for your primary colony",
		Example: "  cw squad stake --territory <collection>:12 --infra <collection>:7 --resource <collection>:3",
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			id, err := colonyArg(nil, 0, prof)
			if err != nil {
				return err
			}
			var in game.SquadInput
			for _, slot := range []struct {
				raw []string
				dst *[]ledger.TokenRef
			}{
				{territory, &in.Territory},
				{infra, &in.Infrastructure},
				{resource, &in.Resource},
			} {
				for _, s := range slot.raw {
					ref, err := parseTokenRef(s)
					if err != nil {
						return err
					}
					*slot.dst = append(*slot.dst, ref)
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			sq, err := client.StakeSquad(ctx, id, in)
			if err != nil {
				return err
			}
			renderSquad(sq)
			return nil
		},
	}
	stake.Flags().StringSliceVar(&territory, "territory", nil, "territory cards as collection:token")
	stake.Flags().StringSliceVar(&infra, "infra", nil, "infrastructure cards as collection:token")
	stake.Flags().StringSliceVar(&resource, "resource", nil, "resource cards as collection:token")

	var emergency bool
	unstake := &cobra.Command{
		Use:   "unstake",
		Short: "Return your primary colony's squad",
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			id, err := colonyArg(nil, 0, prof)
			if err != nil {
				return err
			}
			if emergency && !confirm("Emergency unstake ignores the charge check and costs a fee. Continue?") {
				printInfo("Cancelled.")
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := client.UnstakeSquad(ctx, id, emergency); err != nil {
				return err
			}
			printSuccess("Squad unstaked.")
			return nil
		},
	}
	unstake.Flags().BoolVar(&emergency, "emergency", false, "skip the power core charge check")

	squad.AddCommand(stake, unstake)
	return squad
}

func newTerritoryCmd(apiBase *string) *cobra.Command {
	territory := &cobra.Command{
		Use:     "territory",
		Short:   "Territory control",
		Aliases: []string{"terr"},
	}

	var vulnerable bool
	list := &cobra.Command{
		Use:   "list [colony]",
		Short: "List territories a colony controls",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			id, err := colonyArg(args, 0, prof)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.Territories(ctx, id, vulnerable)
			if err != nil {
				return err
			}
			renderTerritories(out)
			return nil
		},
	}
	list.Flags().BoolVar(&vulnerable, "vulnerable", false, "only territories with overdue maintenance")

	show := &cobra.Command{
		Use:   "show <territory-id>",
		Short: "Show a territory and its resource node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			id, err := ledger.ParseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.Territory(ctx, id)
			if err != nil {
				return err
			}
			renderTerritories([]ledger.Territory{out.Territory})
			if out.Node.Active {
				fmt.Printf("Resource node: type %d, level %d\n", out.Node.ResourceType, out.Node.NodeLevel)
			}
			return nil
		},
	}

	claim := &cobra.Command{
		Use:   "claim <territory-id>",
		Short: "Claim a free territory for your primary colony",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			colony, err := colonyArg(nil, 0, prof)
			if err != nil {
				return err
			}
			id, err := ledger.ParseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if _, err := client.ClaimTerritory(ctx, colony, id); err != nil {
				return err
			}
			printSuccess("Territory " + id.Short() + " claimed.")
			return nil
		},
	}

	maintain := &cobra.Command{
		Use:   "maintain <territory-id>",
		Short: "Pay maintenance on a territory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			colony, err := colonyArg(nil, 0, prof)
			if err != nil {
				return err
			}
			id, err := ledger.ParseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if _, err := client.PayMaintenance(ctx, colony, id); err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method: "POST",
					Path:   "/v1/colonies/" + colony.String() + "/territories/" + id.String() + "/maintain",
					Body:   map[string]any{},
					Caller: prof.Address,
				})
			}
			printSuccess("Maintenance paid on " + id.Short() + ".")
			return nil
		},
	}

	territory.AddCommand(list, show, claim, maintain)
	return territory
}

func newBattleCmd(apiBase *string) *cobra.Command {
	battle := &cobra.Command{
		Use:   "battle",
		Short: "Raids and sieges",
	}

	battle.AddCommand(&cobra.Command{
		Use:   "list [colony]",
		Short: "List battles involving a colony",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			id, err := colonyArg(args, 0, prof)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.Battles(ctx, id)
			if err != nil {
				return err
			}
			renderBattles(out, id)
			return nil
		},
	})

	var siegeTarget string
	declare := &cobra.Command{
		Use:   "declare <defender>",
		Short: "Raid a colony, or siege one of its territories with --siege",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			attacker, err := colonyArg(nil, 0, prof)
			if err != nil {
				return err
			}
			defender, err := cl.ResolveID("colony", args[0])
			if err != nil {
				return err
			}
			var territory ledger.ID
			if siegeTarget != "" {
				if territory, err = ledger.ParseID(siegeTarget); err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if cmp, err := client.BattlePower(ctx, attacker, defender); err == nil {
				renderBattlePower(cmp)
				if (cmp.Outcome == game.VeryUnlikely || cmp.Outcome == game.Unlikely) && !confirm("Odds are against you. Attack anyway?") {
					printInfo("Cancelled.")
					return nil
				}
			}
			b, err := client.DeclareBattle(ctx, attacker, defender, territory)
			if err != nil {
				return err
			}
			kind := "Raid"
			if b.Siege {
				kind = "Siege"
			}
			printSuccess(fmt.Sprintf("%s declared (%s).", kind, b.ID))
			return nil
		},
	}
	declare.Flags().StringVar(&siegeTarget, "siege", "", "territory id to siege")

	battle.AddCommand(declare)
	return battle
}

func newEventsCmd(apiBase *string) *cobra.Command {
	var (
		after uint64
		limit int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the ledger event feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			page, err := client.Events(ctx, after, limit)
			if err != nil {
				return err
			}
			renderEvents(page.Events)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&after, "after", 0, "only events after this sequence number")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to show")
	return cmd
}

func newAdminCmd(apiBase *string) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Season administration",
	}

	var count int
	var seed int64
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate the season's territory map",
		RunE: func(cmd *cobra.Command, args []string) error {
			return adminPost(cmd, apiBase, "/v1/admin/territories/seed", map[string]any{"count": count, "seed": seed}, fmt.Sprintf("Seeded territories from seed %d.", seed))
		},
	}
	seedCmd.Flags().IntVar(&count, "count", 25, "territories to generate")
	seedCmd.Flags().Int64Var(&seed, "seed", time.Now().Unix(), "map seed")

	var attackerWon bool
	resolve := &cobra.Command{
		Use:   "resolve <battle-id>",
		Short: "Resolve a battle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ledger.ParseID(args[0])
			if err != nil {
				return err
			}
			return adminPost(cmd, apiBase, "/v1/admin/battles/"+id.String()+"/resolve", map[string]any{"attacker_won": attackerWon}, "Battle resolved.")
		},
	}
	resolve.Flags().BoolVar(&attackerWon, "attacker-won", false, "the attacker won")

	fee := &cobra.Command{
		Use:   "fee <key> <amount>",
		Short: "Set a fee",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || amount < 0 {
				return fmt.Errorf("invalid amount")
			}
			return adminPost(cmd, apiBase, "/v1/admin/fees", map[string]any{"key": args[0], "amount": amount}, "Fee updated.")
		},
	}

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale proposals and invitations now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return adminPost(cmd, apiBase, "/v1/admin/sweep", map[string]any{}, "Sweep complete.")
		},
	}

	admin.AddCommand(seedCmd, resolve, fee, sweep)
	return admin
}

func adminPost(cmd *cobra.Command, apiBase *string, path string, body map[string]any, message string) error {
	_, client, err := session(cmd, apiBase)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	if _, err := client.Do(ctx, "POST", path, client.Caller, body); err != nil {
		return err
	}
	printSuccess(message)
	return nil
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay writes queued while the API was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			// Later commands may depend on earlier ones, so a rejected
			// command is dropped and reported while a network failure stops
			// the replay.
			var rejected int
			sent, remaining, err := syncq.Replay(queue, func(q syncq.Command) error {
				_, err := client.Do(ctx, q.Method, q.Path, q.Caller, q.Body)
				if err != nil && cl.IsAPIError(err) {
					rejected++
					printError(fmt.Sprintf("Rejected %s %s (queued %s): %v", q.Method, q.Path, q.QueuedAt.Local().Format(time.Kitchen), err))
					return nil
				}
				return err
			})
			if saveErr := syncq.Save(remaining); saveErr != nil {
				return saveErr
			}
			if err != nil {
				printWarn(fmt.Sprintf("Sync stopped: %v", err))
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d rejected=%d remaining=%d", sent-rejected, rejected, len(remaining)))
			return nil
		},
	}
}

// queueOnNetworkError keeps a write for `cw sync` when the API could not be
// reached. Errors the API answered with are returned as is.
func queueOnNetworkError(err error, q syncq.Command) error {
	if err == nil {
		return nil
	}
	if cl.IsAPIError(err) {
		return err
	}
	if pushErr := syncq.Push(q); pushErr != nil {
		return fmt.Errorf("request failed and could not be queued: %w", pushErr)
	}
	printWarn(fmt.Sprintf("API unreachable (%v). Queued %s %s for `cw sync`.", err, q.Method, q.Path))
	return nil
}

func colonyArg(args []string, idx int, prof cl.Profile) (ledger.ID, error) {
	if len(args) > idx {
		return cl.ResolveID("colony", args[idx])
	}
	if prof.PrimaryColony.IsZero() {
		return ledger.ZeroID, fmt.Errorf("no primary colony saved, pass a colony or run `cw colony primary`")
	}
	return prof.PrimaryColony, nil
}

// parseTokenRef reads collection:token where collection is a collection id
// or contract address.
func parseTokenRef(s string) (ledger.TokenRef, error) {
	collection, token, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return ledger.TokenRef{}, fmt.Errorf("token %q must be collection:token", s)
	}
	id, err := ledger.ParseID(collection)
	if err != nil {
		id = game.CollectionID(ledger.NormalizeAddress(collection))
	}
	tokenID, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return ledger.TokenRef{}, fmt.Errorf("token %q: %w", s, err)
	}
	return ledger.TokenRef{Collection: id, TokenID: tokenID}, nil
}

func int64FromArgOrPrompt(args []string, idx int, label string) (int64, error) {
	if len(args) > idx {
		v, err := strconv.ParseInt(strings.TrimSpace(args[idx]), 10, 64)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("invalid %s", strings.ToLower(label))
		}
		return v, nil
	}
	return promptInt64(label, 1)
}
