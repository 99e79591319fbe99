package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/CrowderSoup/crm-board/apiclient"
	"github.com/CrowderSoup/crm-board/appstate"
	"github.com/CrowderSoup/crm-board/board"
	"github.com/CrowderSoup/crm-board/boardview"
	"github.com/CrowderSoup/crm-board/presence"
	"github.com/CrowderSoup/crm-board/pushchannel"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var boardID string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a board as other people edit it",
	Long: `Print the board, then print it again after every change pushed by the
server, including cards other people are dragging right now.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var moveCmd = &cobra.Command{
	Use:   "move CARD LIST INDEX",
	Short: "Move a card to a position in a list",
	Long: `Move a card the way a drag and drop would: the other people on the
board see it picked up and dropped, then the move is saved.`,
	Args: cobra.ExactArgs(3),
	RunE: runMove,
}

func init() {
	for _, c := range []*cobra.Command{watchCmd, moveCmd} {
		c.Flags().StringVarP(&boardID, "board", "b", "", "board id")
		c.MarkFlagRequired("board")
		rootCmd.AddCommand(c)
	}
}

// session is a signed-in client attached to one board.
type session struct {
	state *appstate.State
	api   *apiclient.Client
	ch    *pushchannel.Channel
	view  *boardview.View
}

func openSession(ctx context.Context, onChange func()) (*session, error) {
	if cfg.Client.Token == "" {
		return nil, errors.New("no token: set CRM_TOKEN or client.token")
	}

	api := apiclient.New(cfg.Client.BaseURL, cfg.Client.Token)
	id, err := api.Verify(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}

	state := appstate.New()
	if err := state.Login(appstate.User{ID: id.UserID, Name: id.Name, Email: id.Email, Token: api.Token()}); err != nil {
		return nil, err
	}
	if err := state.SelectBoard(boardID); err != nil {
		return nil, err
	}

	wsURL, err := pushchannel.WebSocketURL(api.BaseURL())
	if err != nil {
		return nil, err
	}
	ch, err := pushchannel.Dial(ctx, wsURL, api.Token(), boardID)
	if err != nil {
		return nil, err
	}

	view := boardview.New(api, ch, boardview.Options{
		UserID:   id.UserID,
		LockTTL:  cfg.Client.LockTTL,
		Names:    presence.NewNames(api, cfg.Client.Locale),
		OnChange: onChange,
	})

	log.Debug().Str("user", id.UserID).Str("board", boardID).Msg("session opened")
	return &session{state: state, api: api, ch: ch, view: view}, nil
}

// run keeps the push channel open and mounts the view until ctx is done
// or the connection drops.
func (s *session) run(ctx context.Context) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- s.ch.Run(ctx) }()

	s.view.Mount(ctx)
	return errc
}

func (s *session) close() {
	s.view.Unmount()
	s.ch.Close()
	s.state.Logout()
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redraw := make(chan struct{}, 1)
	s, err := openSession(ctx, func() {
		select {
		case redraw <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer s.close()

	errc := s.run(ctx)
	if err := s.view.Open(ctx, boardID); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printBoard(out, s.view)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if err != nil {
				return fmt.Errorf("lost connection to the board: %w", err)
			}
			return nil
		case <-redraw:
			printBoard(out, s.view)
		}
	}
}

func runMove(cmd *cobra.Command, args []string) error {
	cardID, listID := args[0], args[1]
	index, err := strconv.Atoi(args[2])
	if err != nil || index < 0 {
		return fmt.Errorf("index must be a non-negative integer, got %q", args[2])
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	s, err := openSession(ctx, nil)
	if err != nil {
		return err
	}
	defer s.close()

	s.run(ctx)
	if err := s.view.Open(ctx, boardID); err != nil {
		return err
	}

	if err := s.view.StartDrag(ctx, cardID); err != nil {
		if errors.Is(err, boardview.ErrCardLocked) {
			holder, _ := s.view.LockHolder(cardID)
			return fmt.Errorf("%s is moving that card right now", holder)
		}
		return err
	}
	s.view.UpdateDrag(ctx, cardID, listID, index)
	if err := s.view.Drop(ctx, cardID, listID, index); err != nil {
		return err
	}
	if err := s.ch.Flush(ctx); err != nil {
		log.Warn().Err(err).Msg("board may not have seen the move")
	}

	printBoard(cmd.OutOrStdout(), s.view)
	return nil
}

func printBoard(w io.Writer, v *boardview.View) {
	cols := v.Render()
	fmt.Fprintln(w, "----")
	if len(cols) == 0 {
		fmt.Fprintln(w, "(no lists)")
	}
	for _, col := range cols {
		fmt.Fprintf(w, "%s (%d)\n", col.Title, len(col.Cards))
		for _, card := range col.Cards {
			fmt.Fprintf(w, "  - %s%s\n", card.Title, cardSuffix(v, card))
		}
	}
	if call := v.ActiveCall(); call != "" {
		fmt.Fprintf(w, "on a call: %s\n", call)
	}
}

func cardSuffix(v *boardview.View, card board.Card) string {
	suffix := ""
	if card.Priority != board.PriorityNone {
		suffix += " [" + string(card.Priority) + "]"
	}
	if holder, ok := v.LockHolder(card.ID); ok {
		suffix += " <- " + holder
	}
	return suffix
}
