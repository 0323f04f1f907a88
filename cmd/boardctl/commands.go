package main

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ideaboard/api/internal/client"
	"ideaboard/api/internal/reorder"
)

var loginCmd = &cobra.Command{
	Use:   "login NAME",
	Short: "Sign in by display name and print a token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := newClient().Login(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "export IDEABOARD_TOKEN=%s\n", session.Token)
		log.WithFields(log.Fields{"user": session.User.DisplayName, "role": session.User.Role}).Debug("signed in")
		return nil
	},
}

var boardsCmd = &cobra.Command{
	Use:   "boards",
	Short: "List boards",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		boards, err := newClient().Boards(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
		for _, board := range boards {
			fmt.Fprintf(w, "%s\t%s\t%s\n", board.ID, board.Name, board.Description)
		}
		return w.Flush()
	},
}

var (
	cardsPriority string
	cardsQuery    string
)

var cardsCmd = &cobra.Command{
	Use:   "cards BOARD",
	Short: "Show a board's columns and cards in order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		if cardsPriority == "" && cardsQuery == "" {
			board, err := c.Board(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printBoard(cmd.OutOrStdout(), board.Columns)
			return nil
		}
		filter := url.Values{}
		if cardsPriority != "" {
			filter.Set("priority", cardsPriority)
		}
		if cardsQuery != "" {
			filter.Set("q", cardsQuery)
		}
		cards, err := c.Cards(cmd.Context(), args[0], filter)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCOLUMN\tPOS\tVOTES\tTITLE")
		for _, card := range cards {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", card.ID, card.ColumnID, card.Position, card.VoteCount, card.Title)
		}
		return w.Flush()
	},
}

var (
	moveBoard    string
	moveColumn   string
	movePosition int
)

var moveCmd = &cobra.Command{
	Use:   "move CARD",
	Short: "Move a card to another position or column",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if moveBoard == "" {
			return errors.New("--board is required")
		}
		c := newClient()
		projector := client.NewProjector(client.NewCache(), c)
		if err := projector.Load(cmd.Context(), moveBoard); err != nil {
			return err
		}
		req := reorder.Request{CardID: args[0], TargetColumnID: moveColumn}
		if cmd.Flags().Changed("position") {
			req.TargetPosition = reorder.Position(movePosition)
		}
		card, err := projector.Move(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s #%d\n", card.ID, card.ColumnID, card.Position)
		if columns, ok := projector.Cache().Columns(moveBoard); ok {
			printBoard(cmd.OutOrStdout(), columns)
		}
		return nil
	},
}

var voteBoard string

var voteCmd = &cobra.Command{
	Use:   "vote CARD",
	Short: "Toggle your vote on a card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		projector := client.NewProjector(client.NewCache(), c)
		if voteBoard != "" {
			if err := projector.Load(cmd.Context(), voteBoard); err != nil {
				return err
			}
		}
		result, err := projector.ToggleVote(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "vote %s, %d total\n", result.Action, result.VoteCount)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch BOARD",
	Short: "Print change events for a board until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		err := newClient().Watch(cmd.Context(), args[0], func(ev client.Event) {
			fmt.Fprintf(out, "%s %s %s %s\n", ev.At.Format("15:04:05"), ev.Table, ev.Kind, ev.CardID)
		})
		if errors.Is(err, cmd.Context().Err()) {
			return nil
		}
		return err
	},
}

var checkRepair bool

var checkCmd = &cobra.Command{
	Use:   "check BOARD",
	Short: "Verify every column holds positions 0..n-1",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		report, err := c.Integrity(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, column := range report.Columns {
			status := "ok"
			if len(column.Violations) > 0 {
				parts := make([]string, 0, len(column.Violations))
				for _, violation := range column.Violations {
					parts = append(parts, fmt.Sprintf("%s@%d", violation.Kind, violation.Position))
				}
				status = strings.Join(parts, " ")
			}
			fmt.Fprintf(out, "%-20s %3d cards  %s\n", column.Name, column.Cards, status)
		}
		if report.OK || !checkRepair {
			if !report.OK {
				return errors.New("board has position violations, rerun with --repair")
			}
			return nil
		}
		repaired, err := c.Repair(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "repaired %d cards\n", repaired)
		return nil
	},
}

func init() {
	cardsCmd.Flags().StringVar(&cardsPriority, "priority", "", "Only cards with this priority (low, medium, high)")
	cardsCmd.Flags().StringVarP(&cardsQuery, "query", "q", "", "Only cards matching this text")

	moveCmd.Flags().StringVar(&moveBoard, "board", "", "Board the card belongs to")
	moveCmd.Flags().StringVar(&moveColumn, "to", "", "Target column id (default: current column)")
	moveCmd.Flags().IntVar(&movePosition, "position", 0, "Zero-based target position (default: current position)")

	voteCmd.Flags().StringVar(&voteBoard, "board", "", "Board to load so the tally updates locally")

	checkCmd.Flags().BoolVar(&checkRepair, "repair", false, "Renumber broken columns (admin only)")

	rootCmd.AddCommand(loginCmd, boardsCmd, cardsCmd, moveCmd, voteCmd, watchCmd, checkCmd)
}

func printBoard(out io.Writer, columns []client.Column) {
	for _, column := range columns {
		fmt.Fprintf(out, "== %s (v%d)\n", column.Name, column.Version)
		for _, card := range column.Cards {
			fmt.Fprintf(out, "  %2d  %-8s %3d votes  %s  [%s]\n", card.Position, card.Priority, card.VoteCount, card.Title, card.ID)
		}
	}
}
