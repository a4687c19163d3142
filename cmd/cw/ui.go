package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "colonywars/internal/cli"
	"colonywars/internal/game"
	"colonywars/internal/ledger"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// terminalWidth falls back to 100 columns when stdout is not a terminal.
func terminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 100
	}
	return w
}

func promptRequired(label string) (string, error) {
	if !interactive() {
		return "", fmt.Errorf("%s is required", strings.ToLower(label))
	}
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptChoice(label string, options []string, defaultValue string) (string, error) {
	if !interactive() {
		return defaultValue, nil
	}
	normalized := make(map[string]struct{}, len(options))
	for _, opt := range options {
		normalized[strings.ToLower(strings.TrimSpace(opt))] = struct{}{}
	}
	for {
		fmt.Printf("%s (%s) [%s]: ", label, strings.Join(options, "/"), defaultValue)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if text == "" {
			text = strings.ToLower(strings.TrimSpace(defaultValue))
		}
		if _, ok := normalized[text]; ok {
			return text, nil
		}
		printWarn("Invalid option. Please pick one of the listed values.")
	}
}

func promptInt64(label string, min int64) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

// confirm asks a yes/no question. Non-interactive runs proceed.
func confirm(question string) bool {
	choice, err := promptChoice(question, []string{"yes", "no"}, "yes")
	return err == nil && choice == "yes"
}

func renderSeason(v cl.SeasonView) {
	s := v.Season
	accent.Printf("\n== SEASON %d ==\n", s.ID)
	fmt.Printf("Phase:              %s\n", phaseLabel(v.Phase))
	fmt.Printf("Registration ends:  %s\n", s.RegistrationEnd.Local().Format(time.RFC1123))
	fmt.Printf("Warfare ends:       %s\n", s.WarfareEnd.Local().Format(time.RFC1123))
	fmt.Printf("Resolution ends:    %s\n", s.ResolutionEnd.Local().Format(time.RFC1123))
	fmt.Printf("Prize pool:         %s\n", comma(s.PrizePool))
	fmt.Printf("Colonies:           %d\n", len(s.RegisteredColonies))
	fmt.Println()
}

func phaseLabel(p ledger.Phase) string {
	switch p {
	case ledger.PhaseWarfare:
		return danger.Sprint(strings.ToUpper(string(p)))
	case ledger.PhaseRegistration:
		return success.Sprint(strings.ToUpper(string(p)))
	case ledger.PhaseEnded:
		return neutral.Sprint(strings.ToUpper(string(p)))
	default:
		return warn.Sprint(strings.ToUpper(string(p)))
	}
}

func threatLabel(t game.ThreatLevel) string {
	switch t {
	case game.ThreatCritical, game.ThreatHigh:
		return danger.Sprint(t)
	case game.ThreatMedium:
		return warn.Sprint(t)
	case game.ThreatLow:
		return neutral.Sprint(t)
	default:
		return success.Sprint(t)
	}
}

func yesNo(b bool) string {
	if b {
		return success.Sprint("yes")
	}
	return neutral.Sprint("no")
}

func renderOverview(ov game.StrategicOverview) {
	accent.Printf("\n== COLONY %s (Season %d, %s) ==\n", ov.Colony.Short(), ov.Season, ov.Phase)
	if !ov.Registered {
		printInfo("Not registered this season.")
	} else {
		fmt.Printf("Defensive stake:    %s\n", comma(ov.DefensiveStake))
		fmt.Printf("Threat:             %s\n", threatLabel(ov.Threat))
		fmt.Printf("Readiness:          %d/100   Overall: %d/100\n", ov.Readiness.Score, ov.OverallScore)
		fmt.Printf("Can attack/defend:  %s / %s   siege: %s  raid: %s\n",
			yesNo(ov.Readiness.CanAttack), yesNo(ov.Readiness.CanDefend), yesNo(ov.Readiness.CanSiege), yesNo(ov.Readiness.CanRaid))
		fmt.Printf("Battles:            %d incoming (%d sieges), %d outgoing\n", ov.IncomingAttacks, ov.ActiveSieges, ov.OutgoingAttacks)
		fmt.Printf("Territories:        %d (%d vulnerable)\n", ov.Territories, len(ov.VulnerableTerritories))
	}
	if ov.Alliance != nil {
		a := ov.Alliance
		role := "member"
		if a.IsLeader {
			role = "leader"
		}
		fmt.Printf("Alliance:           %s (%s, %d members, stability %d, treasury %s, bonus +%d%%)\n",
			truncate(a.Name, 24), role, a.Members, a.StabilityIndex, comma(a.SharedTreasury), a.Bonus.Total)
	}
	if ov.Squad != nil {
		sq := ov.Squad
		fmt.Printf("Squad:              %d territory / %d infra / %d resource, synergy +%d%%\n",
			sq.Territory, sq.Infrastructure, sq.Resource, sq.SynergyBonus)
	}
	if len(ov.Recommendations) > 0 {
		fmt.Println()
		accent.Println("Advice")
		for _, r := range ov.Recommendations {
			fmt.Printf("  - %s\n", r)
		}
	}
	fmt.Println()
}

func renderWithdrawal(res game.WithdrawalResult) {
	accent.Printf("\n== WITHDRAWN %s ==\n", res.Colony.Short())
	fmt.Printf("Stake:         %s\n", comma(res.Stake))
	fmt.Printf("Penalty:       %s\n", danger.Sprint(comma(res.Penalty)))
	fmt.Printf("Refund:        %s\n", success.Sprint(comma(res.Refund)))
	fmt.Printf("Territories:   %d forfeited\n", res.Territories)
	if res.Betrayal {
		printWarn("Leaving mid-season counted as a betrayal of your alliance.")
	}
	fmt.Println()
}

func renderBattlePower(cmp game.BattlePowerComparison) {
	label := string(cmp.Outcome)
	switch cmp.Outcome {
	case game.VeryLikely, game.Likely:
		label = success.Sprint(label)
	case game.Unlikely, game.VeryUnlikely:
		label = danger.Sprint(label)
	default:
		label = warn.Sprint(label)
	}
	fmt.Printf("Attacker %s power %s vs defender %s power %s: %d%% (%s)\n",
		cmp.Attacker.Short(), comma(cmp.AttackerPower), cmp.Defender.Short(), comma(cmp.DefenderPower), cmp.RatioPercent, label)
}

func renderAlliances(list []ledger.Alliance) {
	accent.Println("\n== ALLIANCES ==")
	if len(list) == 0 {
		printInfo("No alliances yet.")
		return
	}
	fmt.Printf("%-10s %-24s %8s %10s %9s %12s %7s\n", "ID", "NAME", "MEMBERS", "STABILITY", "BETRAYALS", "TREASURY", "ACTIVE")
	for _, a := range list {
		fmt.Printf("%-10s %-24s %8d %10d %9d %12s %7s\n",
			a.ID.Short(), truncate(a.Name, 24), len(a.Members), a.StabilityIndex, a.BetrayalCount, comma(a.SharedTreasury), yesNo(a.Active))
	}
	fmt.Println()
}

func renderAlliance(a ledger.Alliance, bonus *game.DefensiveBonus) {
	accent.Printf("\n== ALLIANCE %s ==\n", a.Name)
	fmt.Printf("ID:          %s\n", a.ID)
	fmt.Printf("Leader:      %s\n", a.LeaderColony)
	fmt.Printf("Stability:   %d   Betrayals: %d\n", a.StabilityIndex, a.BetrayalCount)
	fmt.Printf("Treasury:    %s\n", comma(a.SharedTreasury))
	if bonus != nil {
		fmt.Printf("Bonus:       +%d%% (base %d, reinforcement %d, treasury %d)\n", bonus.Total, bonus.Base, bonus.Reinforcement, bonus.Treasury)
	}
	fmt.Printf("Members (%d):\n", len(a.Members))
	for _, m := range a.Members {
		fmt.Printf("  - %s\n", m)
	}
	fmt.Println()
}

func renderProposal(p ledger.ForgivenessProposal) {
	state := "open"
	switch {
	case p.Executed:
		state = success.Sprint("forgiven")
	case !p.Active:
		state = neutral.Sprint("closed")
	}
	fmt.Printf("Forgiveness for %s: %d yes of %d votes, %s, voting ends %s\n",
		p.BetrayerColony.Short(), p.YesVotes, p.TotalVotes, state, p.VoteEnd.Local().Format(time.RFC1123))
}

func renderSquad(sq ledger.SquadStakePosition) {
	accent.Printf("\n== SQUAD %s ==\n", sq.Colony.Short())
	if !sq.Active {
		printInfo("No squad staked.")
		return
	}
	fmt.Printf("Staked:      %s\n", sq.StakedAt.Local().Format(time.RFC1123))
	fmt.Printf("Synergy:     +%d%% across %d collections\n", sq.TotalSynergyBonus, sq.UniqueCollectionsCount)
	for _, slot := range []struct {
		name  string
		cards []ledger.TokenRef
	}{
		{"Territory", sq.TerritoryCards},
		{"Infra", sq.InfraCards},
		{"Resource", sq.ResourceCards},
	} {
		refs := make([]string, 0, len(slot.cards))
		for _, c := range slot.cards {
			refs = append(refs, fmt.Sprintf("%s:%d", c.Collection.Short(), c.TokenID))
		}
		fmt.Printf("%-12s %s\n", slot.name+":", strings.Join(refs, ", "))
	}
	fmt.Println()
}

func renderTerritories(list []ledger.Territory) {
	if len(list) == 0 {
		printInfo("No territories.")
		return
	}
	fmt.Printf("%-10s %-10s %5s %6s %-26s\n", "ID", "CONTROL", "TYPE", "BONUS", "LAST MAINTENANCE")
	for _, t := range list {
		owner := "free"
		if !t.ControllingColony.IsZero() {
			owner = t.ControllingColony.Short()
		}
		paid := "never"
		if !t.LastMaintenancePayment.IsZero() {
			paid = t.LastMaintenancePayment.Local().Format(time.RFC1123)
		}
		fmt.Printf("%-10s %-10s %5d %5d%% %-26s\n", t.ID.Short(), owner, t.TerritoryType, t.BonusValue, paid)
	}
}

func renderBattles(list []ledger.Battle, colony ledger.ID) {
	if len(list) == 0 {
		printInfo("No battles.")
		return
	}
	fmt.Printf("%-10s %-6s %-9s %-10s %-10s %-10s\n", "ID", "KIND", "SIDE", "OPPONENT", "STATUS", "OUTCOME")
	for _, b := range list {
		kind := "raid"
		if b.Siege {
			kind = "siege"
		}
		side, opponent := "attacker", b.Defender
		if b.Defender == colony {
			side, opponent = "defender", b.Attacker
		}
		status, outcome := warn.Sprint("open"), "-"
		if b.Resolved {
			status = neutral.Sprint("resolved")
			won := b.AttackerWon == (side == "attacker")
			outcome = danger.Sprint("lost")
			if won {
				outcome = success.Sprint("won")
			}
		}
		fmt.Printf("%-10s %-6s %-9s %-10s %-10s %-10s\n", b.ID.Short(), kind, side, opponent.Short(), status, outcome)
	}
}

func renderEvents(events []ledger.Event) {
	if len(events) == 0 {
		printInfo("No events.")
		return
	}
	width := terminalWidth()
	for _, ev := range events {
		fmt.Println(truncate(eventLine(ev), width))
	}
}

func eventLine(ev ledger.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%-6d %s %-30s", ev.Seq, ev.At.Local().Format("Jan 02 15:04"), ev.Type)
	if !ev.Colony.IsZero() {
		b.WriteString(" colony=" + ev.Colony.Short())
	}
	if !ev.Alliance.IsZero() {
		b.WriteString(" alliance=" + ev.Alliance.Short())
	}
	if !ev.Actor.IsZero() {
		b.WriteString(" by=" + string(ev.Actor))
	}
	return b.String()
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
