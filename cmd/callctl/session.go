package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"callsignal-backend/internal/domain"
	"callsignal-backend/pkg/callsync"
	"callsignal-backend/pkg/client"
	"callsignal-backend/pkg/logger"
	"callsignal-backend/pkg/rtcpeer"
)

func newCallCommand(opts *globalOptions) *cobra.Command {
	var video bool

	cmd := &cobra.Command{
		Use:   "call <receiver-id>",
		Short: "Call another user and stay on the line until hangup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireToken(); err != nil {
				return err
			}
			receiverID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid receiver id: %w", err)
			}

			media := domain.MediaKindAudio
			if video {
				media = domain.MediaKindVideo
			}

			api := client.New(opts.server, opts.token)
			view, err := api.InitiateCall(cmd.Context(), receiverID, media)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "calling %s (call %s)\n", peerName(view), view.CallID)

			return runSession(cmd, opts, api, view.Call, view.CallerID, callsync.RoleCaller, false)
		},
	}
	cmd.Flags().BoolVar(&video, "video", false, "request a video call")
	return cmd
}

func newAnswerCommand(opts *globalOptions) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "answer",
		Short: "Wait for an incoming call and accept it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireToken(); err != nil {
				return err
			}
			api := client.New(opts.server, opts.token)

			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			view, err := waitForIncoming(ctx, api, opts.pollInterval)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "incoming %s call from %s (call %s)\n", view.MediaKind, peerName(view), view.CallID)

			return runSession(cmd, opts, api, view.Call, view.ReceiverID, callsync.RoleReceiver, true)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Minute, "how long to wait for a call")
	return cmd
}

// waitForIncoming polls until a ringing call addressed to the user shows up
func waitForIncoming(ctx context.Context, api *client.Client, interval time.Duration) (*domain.CallView, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		view, err := api.ActiveCall(ctx)
		switch {
		case err != nil && !client.IsTransient(err):
			return nil, err
		case err != nil:
			logger.Debug("Active call lookup failed", zap.Error(err))
		case view != nil && view.Status == domain.CallStatusRinging && view.Peer != nil && view.Peer.UserID == view.CallerID:
			return view, nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.New("no incoming call")
		case <-ticker.C:
		}
	}
}

func runSession(cmd *cobra.Command, opts *globalOptions, api *client.Client, call *domain.Call, self uuid.UUID, role callsync.Role, autoAccept bool) error {
	out := cmd.OutOrStdout()

	peer, err := rtcpeer.New(rtcpeer.Config{MediaKind: call.MediaKind, ICEServers: opts.iceServers})
	if err != nil {
		return err
	}
	defer peer.Close()

	synchronizer := callsync.New(api, peer, callsync.Config{
		CallID:       call.CallID,
		Self:         self,
		Role:         role,
		PollInterval: opts.pollInterval,
		AutoAccept:   autoAccept,
		OnStateChange: func(p callsync.Phase) {
			fmt.Fprintf(out, "call %s: %s\n", call.CallID, p)
		},
	})

	peer.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.ForCall(cmd.Context(), call.CallID).Info("Peer connection state changed",
			zap.String("state", state.String()))
		synchronizer.Nudge()
	})

	done := make(chan error, 1)
	go func() { done <- synchronizer.Run(cmd.Context()) }()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	select {
	case err := <-done:
		return err
	case <-interrupt:
		ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
		defer cancel()
		if err := synchronizer.Hangup(ctx); err != nil {
			logger.Warn("Hangup did not reach the server", zap.Error(err))
		}
		fmt.Fprintln(out, "hung up")
		return <-done
	}
}

func peerName(view *domain.CallView) string {
	if view.Peer == nil {
		return "unknown"
	}
	if view.Peer.DisplayName != "" {
		return view.Peer.DisplayName
	}
	return view.Peer.Username
}
