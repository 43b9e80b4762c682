// Command peercall joins a room from the terminal: it negotiates the
// call against the relay and reports state, admission and link quality.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/peercall/peercall/internal/adapters/rtc"
	signalws "github.com/peercall/peercall/internal/adapters/signal"
	"github.com/peercall/peercall/internal/app"
	"github.com/peercall/peercall/internal/core"
	"github.com/peercall/peercall/internal/domain"
)

func main() {
	var (
		room      = flag.String("room", "", "room code to join")
		name      = flag.String("name", "guest", "display name")
		email     = flag.String("email", "", "contact email shown to the host")
		server    = flag.String("server", "http://localhost:8080", "relay base URL")
		gated     = flag.Bool("gated", false, "host-gate the room")
		muted     = flag.Bool("muted", false, "join with the microphone off")
		noVideo   = flag.Bool("no-video", false, "join with the camera off")
		autoAdmit = flag.Bool("auto-admit", false, "approve every join request")
		verbose   = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	if *room == "" {
		pterm.Error.Println("missing -room")
		flag.Usage()
		os.Exit(2)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	identity, err := domain.NewIdentity(*name, *email, "")
	if err != nil {
		pterm.Error.Printfln("bad identity: %v", err)
		os.Exit(2)
	}

	roomID := domain.RoomID(*room)
	wsURL := strings.Replace(*server, "http", "ws", 1) + "/api/ws/signal"

	cfg := app.DefaultSessionConfig()
	cfg.Gated = *gated
	cfg.AudioEnabled = !*muted
	cfg.VideoEnabled = !*noVideo

	sess := app.NewSession(
		roomID,
		identity,
		signalws.NewChannel(wsURL),
		rtc.Factory(roomID),
		rtc.NewSyntheticSource(),
		signalws.NewICEClient(*server),
		cfg,
	)

	sess.OnStateChange(func(st core.NegotiationState) {
		pterm.Info.Printfln("negotiation: %s", st)
	})
	sess.OnTransportState(func(st core.TransportState) {
		pterm.Info.Printfln("transport: %s", st)
	})
	sess.OnRemoteMute(func(muted bool) {
		if muted {
			pterm.Info.Println("peer muted")
		} else {
			pterm.Info.Println("peer unmuted")
		}
	})
	sess.OnQuality(func(q core.LinkQuality, rtt time.Duration) {
		pterm.Info.Printfln("link: %s (rtt %s)", q, rtt)
	})
	sess.OnJoinRequest(func(req domain.JoinRequest) {
		pterm.Warning.Printfln("%s asks to join (request %s)", req.Identity.DisplayName, req.ID)
		if *autoAdmit {
			if err := sess.Approve(req.ID); err != nil {
				pterm.Error.Printfln("approve: %v", err)
				return
			}
			pterm.Success.Printfln("admitted %s", req.Identity.DisplayName)
		}
	})
	sess.OnRejected(func() {
		pterm.Error.Println("the host rejected the join request")
		cancel()
	})

	if err := sess.Join(ctx); err != nil {
		pterm.Error.Printfln("join failed: %v", err)
		os.Exit(1)
	}
	pterm.Success.Printfln("joined room %s as %s", *room, identity.DisplayName)
	if cfg.Gated && !sess.IsHost() {
		pterm.Info.Println("waiting for the host to let us in")
	}

	<-ctx.Done()
	sess.Leave()
	pterm.Info.Println("left room")
}
