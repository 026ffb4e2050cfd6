package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/n17-labs/transferwatch/internal/engine"
	"github.com/n17-labs/transferwatch/internal/model"
)

var playerCmd = &cobra.Command{
	Use:   "player",
	Short: "Inspect and correct player transfer records",
}

var playerGetCmd = &cobra.Command{
	Use:   "get <player-id>",
	Short: "Print a player's transfer record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "player")
		if err != nil {
			return err
		}
		defer env.Close()

		link, err := env.Engine.GetPlayerLink(ctx, args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(link)
	},
}

var (
	overrideStatus    string
	overrideDirection string
	overrideMoveType  string
	overrideClub      string
	overrideFee       float64
	overrideCurrency  string
	overrideNote      string
)

var playerOverrideCmd = &cobra.Command{
	Use:   "override <player-id>",
	Short: "Apply an operator correction to a player record",
	Long: `Overrides bypass the monotonic state machine, so a dead rumor can be
revived or a wrong club corrected. The edit is recorded on the timeline.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var price *model.Price
		if overrideFee > 0 {
			price = &model.Price{Amount: overrideFee, Currency: overrideCurrency}
		}
		o, err := buildOverride(overrideStatus, overrideDirection, overrideMoveType, overrideClub, price, overrideNote)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "player")
		if err != nil {
			return err
		}
		defer env.Close()

		link, err := env.Engine.ManualOverride(ctx, args[0], o)
		if err != nil {
			return err
		}
		fmt.Printf("player %s: status=%s confidence=%.1f\n", link.PlayerID, link.Status, link.Confidence)
		return nil
	},
}

func buildOverride(status, direction, moveType, club string, price *model.Price, note string) (engine.Override, error) {
	o := engine.Override{Price: price, Note: note}

	if status != "" {
		s := model.Status(status)
		if !model.ValidStatus(s) {
			return o, eris.Errorf("unknown status %q", status)
		}
		o.Status = &s
	}
	if direction != "" {
		switch d := model.Direction(direction); d {
		case model.DirectionIncoming, model.DirectionOutgoing, model.DirectionUnknown:
			o.Direction = &d
		default:
			return o, eris.Errorf("unknown direction %q", direction)
		}
	}
	if moveType != "" {
		switch m := model.MoveType(moveType); m {
		case model.MoveTransfer, model.MoveLoan, model.MoveLoanWithOption, model.MoveLoanWithObligation, model.MoveUnclear:
			o.MoveType = &m
		default:
			return o, eris.Errorf("unknown move type %q", moveType)
		}
	}
	if club != "" {
		o.CurrentClub = &club
	}

	if o.Status == nil && o.Direction == nil && o.MoveType == nil && o.CurrentClub == nil && o.Price == nil {
		return o, eris.New("nothing to override: set at least one of status, direction, move type, club, or fee")
	}
	return o, nil
}

var playerConfirmCmd = &cobra.Command{
	Use:   "confirm <entity-id>",
	Short: "Mark an auto-created entity as operator-confirmed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "player")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.ConfirmEntity(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("confirmed:", args[0])
		return nil
	},
}

var playerAliasCmd = &cobra.Command{
	Use:   "alias <entity-id> <alias>",
	Short: "Add a spelling variant to an entity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "player")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.AddAlias(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("alias %q added to %s\n", args[1], args[0])
		return nil
	},
}

func init() {
	playerOverrideCmd.Flags().StringVar(&overrideStatus, "status", "", "new status (rumor, developing, here_we_go, official, dead)")
	playerOverrideCmd.Flags().StringVar(&overrideDirection, "direction", "", "new direction (incoming, outgoing, unknown)")
	playerOverrideCmd.Flags().StringVar(&overrideMoveType, "move-type", "", "new move type (transfer, loan, loan_with_option, loan_with_obligation, unclear)")
	playerOverrideCmd.Flags().StringVar(&overrideClub, "club", "", "corrected current club")
	playerOverrideCmd.Flags().Float64Var(&overrideFee, "fee", 0, "corrected fee amount")
	playerOverrideCmd.Flags().StringVar(&overrideCurrency, "currency", "EUR", "fee currency")
	playerOverrideCmd.Flags().StringVar(&overrideNote, "note", "", "audit note recorded on the timeline")

	playerCmd.AddCommand(playerGetCmd, playerOverrideCmd, playerConfirmCmd, playerAliasCmd)
	rootCmd.AddCommand(playerCmd)
}
