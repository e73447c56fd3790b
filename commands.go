package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/MJE43/starkguessr-go/internal/game"
	"github.com/MJE43/starkguessr-go/internal/gamehttp"
	"github.com/MJE43/starkguessr-go/internal/geo"
	"github.com/MJE43/starkguessr-go/internal/scoring"
	"github.com/MJE43/starkguessr-go/internal/session"
)

var coordinateFlags = []cli.Flag{
	&cli.Float64Flag{Name: "lat", Usage: "latitude in degrees"},
	&cli.Float64Flag{Name: "lng", Usage: "longitude in degrees"},
}

func gameIDArg(c *cli.Context) (uint64, error) {
	s := c.Args().First()
	if s == "" {
		return 0, fmt.Errorf("missing game id")
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid game id %q", s)
	}
	return id, nil
}

// coordinateFromFlags returns nil when neither flag is set.
func coordinateFromFlags(c *cli.Context) (*geo.Coordinate, error) {
	if !c.IsSet("lat") && !c.IsSet("lng") {
		return nil, nil
	}
	if !c.IsSet("lat") || !c.IsSet("lng") {
		return nil, fmt.Errorf("--lat and --lng must be given together")
	}
	loc := geo.Coordinate{Lat: c.Float64("lat"), Lng: c.Float64("lng")}
	if err := loc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", game.ErrInvalidCoordinate, err)
	}
	return &loc, nil
}

// withGame opens a session and runs fn for the game id in the first arg.
func withGame(fn func(c *cli.Context, sess *session.Session, id uint64) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		id, err := gameIDArg(c)
		if err != nil {
			return err
		}
		sess, cleanup, err := openSession(c)
		if err != nil {
			return err
		}
		defer cleanup()
		return fn(c, sess, id)
	}
}

// --- serve ---

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the local HTTP API with the lobby loop and optional game watches",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Usage: "loopback port (default from STARKGUESSR_HTTP_PORT)"},
			&cli.Uint64SliceFlag{Name: "watch", Usage: "game ids to watch from startup"},
		},
		Action: func(c *cli.Context) error {
			log.Printf("starting %s on %s", appName, cfg.PlayerAddress)
			sess, cleanup, err := openSession(c)
			if err != nil {
				return err
			}
			defer cleanup()

			port := cfg.HTTPPort
			if c.IsSet("port") {
				port = c.Int("port")
			}
			srv := gamehttp.New(sess, port, cfg.HTTPToken, newLogger(c, "[HTTP] "))

			g, gctx := errgroup.WithContext(c.Context)
			g.Go(func() error { return srv.Run(gctx) })
			g.Go(func() error { return sess.StartLobby(gctx) })
			for _, id := range c.Uint64Slice("watch") {
				id := id
				g.Go(func() error {
					_, err := sess.Watch(gctx, id, session.WatchOptions{
						OnDecision: printDecision,
						OnError:    func(err error) { log.Print(describe(err)) },
					})
					return err
				})
			}
			return g.Wait()
		},
	}
}

// --- one-shot actions ---

func createCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "create a game; without --lat/--lng the backend picks the location",
		Flags: coordinateFlags,
		Action: func(c *cli.Context) error {
			target, err := coordinateFromFlags(c)
			if err != nil {
				return err
			}
			sess, cleanup, err := openSession(c)
			if err != nil {
				return err
			}
			defer cleanup()
			id, err := sess.CreateGame(c.Context, target)
			if err != nil {
				return err
			}
			fmt.Printf("game %d created; share it with `%s invite %d`\n", id, appName, id)
			return nil
		},
	}
}

func joinCommand() *cli.Command {
	return &cli.Command{
		Name:      "join",
		Usage:     "join an open game",
		ArgsUsage: "<game-id>",
		Action: withGame(func(c *cli.Context, sess *session.Session, id uint64) error {
			if err := sess.JoinGame(c.Context, id); err != nil {
				return err
			}
			fmt.Printf("joined game %d\n", id)
			return nil
		}),
	}
}

func guessCommand() *cli.Command {
	return &cli.Command{
		Name:      "guess",
		Usage:     "commit a guess",
		ArgsUsage: "<game-id>",
		Flags:     coordinateFlags,
		Action: withGame(func(c *cli.Context, sess *session.Session, id uint64) error {
			guess, err := coordinateFromFlags(c)
			if err != nil {
				return err
			}
			if guess == nil {
				return fmt.Errorf("--lat and --lng are required")
			}
			if err := sess.SubmitGuess(c.Context, id, *guess); err != nil {
				return err
			}
			fmt.Printf("guess %s committed for game %d\n", guess, id)
			return nil
		}),
	}
}

func revealLocationCommand() *cli.Command {
	return &cli.Command{
		Name:      "reveal-location",
		Usage:     "reveal the target location of a game you created",
		ArgsUsage: "<game-id>",
		Action: withGame(func(c *cli.Context, sess *session.Session, id uint64) error {
			if err := sess.RevealLocation(c.Context, id); err != nil {
				return err
			}
			fmt.Printf("location revealed for game %d\n", id)
			return nil
		}),
	}
}

func revealGuessCommand() *cli.Command {
	return &cli.Command{
		Name:      "reveal-guess",
		Usage:     "reveal your committed guess",
		ArgsUsage: "<game-id>",
		Action: withGame(func(c *cli.Context, sess *session.Session, id uint64) error {
			if err := sess.RevealGuess(c.Context, id); err != nil {
				return err
			}
			fmt.Printf("guess revealed for game %d\n", id)
			return nil
		}),
	}
}

// --- watch ---

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "follow a game, revealing automatically, until it finishes",
		ArgsUsage: "<game-id>",
		Action: withGame(func(c *cli.Context, sess *session.Session, id uint64) error {
			done := make(chan error, 1)
			finish := func(err error) {
				select {
				case done <- err:
				default:
				}
			}
			w, err := sess.Watch(c.Context, id, session.WatchOptions{
				OnDecision: func(d game.Decision) {
					printDecision(d)
					if d.Action == game.ActionShowResults {
						finish(nil)
					}
				},
				OnError: finish,
			})
			if err != nil {
				return err
			}
			defer func() {
				w.Stop()
				w.Wait()
			}()

			select {
			case <-c.Context.Done():
				return nil
			case err := <-done:
				if err != nil {
					return err
				}
			}
			g, err := sess.Results(c.Context, id)
			if err != nil {
				return err
			}
			printResults(g, sess.Player())
			return nil
		}),
	}
}

func printDecision(d game.Decision) {
	if d.Stale {
		return
	}
	line := fmt.Sprintf("%s game %d: %s", time.Now().Format("15:04:05"), d.GameID, d.Phase.Describe())
	if d.Phase == game.Active && d.Remaining > 0 {
		line += " (" + game.FormatRemaining(d.Remaining) + " left)"
	}
	if d.Reason != "" {
		line += ": " + d.Reason
	}
	fmt.Println(line)
}

// --- reads ---

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "list recent games",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20},
			&cli.BoolFlag{Name: "asc", Usage: "oldest first"},
		},
		Action: func(c *cli.Context) error {
			sess, cleanup, err := openSession(c)
			if err != nil {
				return err
			}
			defer cleanup()
			order := game.OrderDesc
			if c.Bool("asc") {
				order = game.OrderAsc
			}
			gs, err := sess.Games(c.Context, c.Int("limit"), order)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tCREATOR\tOPPONENT\tPRIZE")
			for _, g := range gs {
				opp := string(g.Player2)
				if g.Player2.IsZero() {
					opp = "-"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", g.ID, g.State.Describe(), g.Player1, opp, g.PrizePool.StringFixed(4))
			}
			return tw.Flush()
		},
	}
}

func resultsCommand() *cli.Command {
	return &cli.Command{
		Name:      "results",
		Usage:     "show the outcome of a finished game",
		ArgsUsage: "<game-id>",
		Action: withGame(func(c *cli.Context, sess *session.Session, id uint64) error {
			g, err := sess.Results(c.Context, id)
			if err != nil {
				return err
			}
			printResults(g, sess.Player())
			return nil
		}),
	}
}

func printResults(g *game.Game, me game.Address) {
	out, err := game.Outcome(g)
	if err != nil {
		fmt.Println(err)
		return
	}
	if g.ActualLocation != nil {
		fmt.Printf("game %d: the location was %s\n", g.ID, g.ActualLocation)
	}
	for _, pg := range g.Guesses {
		who := string(pg.Player)
		if pg.Player == me {
			who += " (you)"
		}
		if pg.Score != nil {
			fmt.Printf("  %s: %s\n", who, scoring.FormatDistance(float64(*pg.Score)))
		}
	}
	switch {
	case out.Draw:
		fmt.Println("draw")
	case out.Winner == string(me):
		fmt.Printf("you won %s\n", g.PrizePool.StringFixed(4))
	default:
		fmt.Printf("winner: %s\n", out.Winner)
	}
}

func secretsCommand() *cli.Command {
	return &cli.Command{
		Name:  "secrets",
		Usage: "list stored commitments (salts are never printed)",
		Action: func(c *cli.Context) error {
			sess, cleanup, err := openSession(c)
			if err != nil {
				return err
			}
			defer cleanup()
			all, err := sess.Secrets(c.Context)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "GAME\tROLE\tCOMMITMENT\tCREATED")
			for _, s := range all {
				id := strconv.FormatUint(s.GameID, 10)
				if s.GameID == 0 {
					id = "pending"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id, s.Role, s.Commitment, s.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

// --- offline tools ---

func distanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "distance",
		Usage:     "great-circle distance between two points",
		ArgsUsage: "<lat1> <lng1> <lat2> <lng2>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 4 {
				return fmt.Errorf("need four numbers")
			}
			var v [4]float64
			for i := range v {
				f, err := strconv.ParseFloat(c.Args().Get(i), 64)
				if err != nil {
					return fmt.Errorf("argument %d: %w", i+1, err)
				}
				v[i] = f
			}
			a, b := geo.Coordinate{Lat: v[0], Lng: v[1]}, geo.Coordinate{Lat: v[2], Lng: v[3]}
			for _, p := range []geo.Coordinate{a, b} {
				if err := p.Validate(); err != nil {
					return err
				}
			}
			d := scoring.Distance(a, b)
			fmt.Printf("%s (%d m)\n", scoring.FormatDistance(d), scoring.MetersOf(d))
			return nil
		},
	}
}

func inviteCommand() *cli.Command {
	return &cli.Command{
		Name:      "invite",
		Usage:     "print or save a QR code that opens a game",
		ArgsUsage: "<game-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "base-url", Value: "http://localhost:5173", Usage: "front end that hosts /game/<id>"},
			&cli.StringFlag{Name: "out", Usage: "write a PNG instead of printing to the terminal"},
			&cli.IntFlag{Name: "size", Value: 256, Usage: "PNG size in pixels"},
		},
		Action: func(c *cli.Context) error {
			id, err := gameIDArg(c)
			if err != nil {
				return err
			}
			link := fmt.Sprintf("%s/game/%d", c.String("base-url"), id)
			if out := c.String("out"); out != "" {
				if err := qrcode.WriteFile(link, qrcode.Medium, c.Int("size"), out); err != nil {
					return fmt.Errorf("write qr code: %w", err)
				}
				fmt.Printf("%s -> %s\n", link, out)
				return nil
			}
			q, err := qrcode.New(link, qrcode.Medium)
			if err != nil {
				return fmt.Errorf("qr code: %w", err)
			}
			fmt.Print(q.ToSmallString(false))
			fmt.Println(link)
			return nil
		},
	}
}
