package main

import (
	"context"

	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/spf13/cobra"
)

var callVideo bool

var callCmd = &cobra.Command{
	Use:   "call <user>",
	Short: "Call a user and stay on the line until the call ends",
	Args:  cobra.ExactArgs(1),
	RunE:  runCall,
}

var (
	listenAutoAnswer bool
	listenOnce       bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Wait for incoming calls",
	RunE:  runListen,
}

func init() {
	callCmd.Flags().BoolVar(&callVideo, "video", false, "place a video call")
	listenCmd.Flags().BoolVar(&listenAutoAnswer, "auto-answer", false, "accept every incoming call")
	listenCmd.Flags().BoolVar(&listenOnce, "once", false, "exit after the first call ends")
}

func runCall(cmd *cobra.Command, args []string) error {
	callee, err := domain.ParseUserID(args[0])
	if err != nil {
		return err
	}
	p, err := dialPhone(cmd.Context())
	if err != nil {
		return err
	}
	defer p.close()

	ct := domain.CallVoice
	if callVideo {
		ct = domain.CallVideo
	}
	return p.run(cmd.Context(), runOptions{
		exitOnEnd: true,
		start: func(ctx context.Context) error {
			return p.machine.StartCall(ctx, callee, ct)
		},
	})
}

func runListen(cmd *cobra.Command, _ []string) error {
	p, err := dialPhone(cmd.Context())
	if err != nil {
		return err
	}
	defer p.close()
	return p.run(cmd.Context(), runOptions{autoAnswer: listenAutoAnswer, exitOnEnd: listenOnce})
}
