// Package main is the marblectl command, the offline management tool for
// the skirkmarble engine: ingest templates, inspect them, render tiles,
// and query progress without a running proxy.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/urfave/cli/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/penandalokasi/skirkmarble/internal/compositor"
	"github.com/penandalokasi/skirkmarble/internal/palette"
	"github.com/penandalokasi/skirkmarble/internal/settings"
	"github.com/penandalokasi/skirkmarble/internal/storage"
	"github.com/penandalokasi/skirkmarble/internal/template"
	"github.com/penandalokasi/skirkmarble/pkg/canvas"
)

const defaultDB = "skirkmarble.db"

var printer = message.NewPrinter(language.English)

func init() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:  "version, V",
		Usage: "print the version",
	}
}

// openStore loads the template store from the database named by the db
// flag, mirrored to a sibling directory of key files.
func openStore(c *cli.Context) (*template.Store, func(), error) {
	db, err := storage.NewSQLite(c.String("db"))
	if err != nil {
		return nil, nil, err
	}
	mirror, err := storage.NewFile(c.String("db") + ".kv")
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	kv := storage.NewAdapter(db, mirror, nil)

	store := template.NewStore(nil, kv, nil, template.WithIdentity(c.String("whoami"), c.App.Version))
	if err := store.Load(context.Background()); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("loading templates: %w", err)
	}
	return store, func() { db.Close() }, nil
}

func parseInt(c *cli.Context, i int) (int, error) {
	v, err := strconv.Atoi(c.Args().Get(i))
	if err != nil {
		return 0, fmt.Errorf("argument %d: %w", i+1, err)
	}
	return v, nil
}

func parseAnchor(c *cli.Context, from int) (canvas.Point, error) {
	var vals [4]int
	for i := range vals {
		v, err := parseInt(c, from+i)
		if err != nil {
			return canvas.Point{}, err
		}
		vals[i] = v
	}
	p := canvas.Point{Tx: vals[0], Ty: vals[1], Px: vals[2], Py: vals[3]}
	if !p.Valid() {
		return canvas.Point{}, fmt.Errorf("pixel offsets must lie in [0, %d)", canvas.TileSize)
	}
	return p, nil
}

func main() {
	app := cli.NewApp()

	app.Name = "marblectl"
	app.Usage = "skirkmarble template and render management"
	app.Version = "2.1.0"

	cwd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "db",
			EnvVars: []string{"SKIRKMARBLE_DB"},
			Value:   filepath.Join(cwd, defaultDB),
			Usage:   "path to the template database",
		},
		&cli.StringFlag{
			Name:  "whoami",
			Value: "anon",
			Usage: "author identity stamped into saved documents",
		},
	}

	app.Commands = []*cli.Command{
		{
			Name:      "ingest",
			Usage:     "Quantize an image into a template at an anchor",
			ArgsUsage: "IMAGE NAME TILEX TILEY PIXELX PIXELY",
			Action: func(c *cli.Context) error {
				if c.NArg() < 6 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}
				anchor, err := parseAnchor(c, 2)
				if err != nil {
					return cli.Exit(err, 1)
				}
				data, err := os.ReadFile(c.Args().First())
				if err != nil {
					return cli.Exit(err, 1)
				}

				store, closeStore, err := openStore(c)
				if err != nil {
					return cli.Exit(err, 1)
				}
				defer closeStore()

				tpl, err := store.CreateFromImage(data, c.Args().Get(1), anchor)
				if err != nil {
					return cli.Exit(err, 1)
				}
				if err := store.Persist(context.Background()); err != nil {
					return cli.Exit(err, 1)
				}

				w, h := tpl.Size()
				printer.Printf("created %s: %d x %d, %d pixels, %d paintable\n",
					tpl.ID(), w, h, tpl.PixelCount(), tpl.ValidPixelCount())
				return nil
			},
		},
		{
			Name:  "list",
			Usage: "List templates",
			Action: func(c *cli.Context) error {
				store, closeStore, err := openStore(c)
				if err != nil {
					return cli.Exit(err, 1)
				}
				defer closeStore()

				templates := store.List()
				sort.Slice(templates, func(i, j int) bool { return templates[i].ID() < templates[j].ID() })
				for _, tpl := range templates {
					state := "enabled"
					if !tpl.Enabled() {
						state = "disabled"
					}
					printer.Printf("%-16s %-24s %s  %d pixels\n",
						tpl.ID(), tpl.DisplayName(), state, tpl.PixelCount())
				}
				return nil
			},
		},
		{
			Name:      "info",
			Usage:     "Show one template in detail",
			ArgsUsage: "ID",
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}
				store, closeStore, err := openStore(c)
				if err != nil {
					return cli.Exit(err, 1)
				}
				defer closeStore()

				tpl, err := store.Get(c.Args().First())
				if err != nil {
					return cli.Exit(err, 1)
				}
				a := tpl.Anchor()
				printer.Printf("id:        %s\n", tpl.ID())
				printer.Printf("name:      %s\n", tpl.DisplayName())
				printer.Printf("anchor:    tile (%d, %d) pixel (%d, %d)\n", a.Tx, a.Ty, a.Px, a.Py)
				w, h := tpl.Size()
				printer.Printf("size:      %d x %d\n", w, h)
				printer.Printf("pixels:    %d (%d paintable)\n", tpl.PixelCount(), tpl.ValidPixelCount())
				printer.Printf("enabled:   %t\n", tpl.Enabled())
				snap := tpl.Snapshot()
				if ids := snap.Disabled.IDs(); len(ids) > 0 {
					printer.Printf("disabled colors: %v\n", ids)
				}
				if ids := snap.Enhanced.IDs(); len(ids) > 0 {
					printer.Printf("enhanced colors: %v\n", ids)
				}
				return nil
			},
		},
		{
			Name:      "remove",
			Usage:     "Delete a template",
			ArgsUsage: "ID",
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}
				store, closeStore, err := openStore(c)
				if err != nil {
					return cli.Exit(err, 1)
				}
				defer closeStore()

				if err := store.Remove(c.Args().First()); err != nil {
					return cli.Exit(err, 1)
				}
				if err := store.Persist(context.Background()); err != nil {
					return cli.Exit(err, 1)
				}
				return nil
			},
		},
		{
			Name:      "render",
			Usage:     "Composite templates over a site tile PNG",
			ArgsUsage: "TILEX TILEY SITE.png",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: "composited.png"},
				&cli.BoolFlag{Name: "error-map", Usage: "render the error map instead of the overlay"},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() < 3 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}
				tx, err := parseInt(c, 0)
				if err != nil {
					return cli.Exit(err, 1)
				}
				ty, err := parseInt(c, 1)
				if err != nil {
					return cli.Exit(err, 1)
				}
				site, err := os.ReadFile(c.Args().Get(2))
				if err != nil {
					return cli.Exit(err, 1)
				}

				store, closeStore, err := openStore(c)
				if err != nil {
					return cli.Exit(err, 1)
				}
				defer closeStore()

				opts := settings.Default()
				opts.ErrorMap = c.Bool("error-map")

				comp := compositor.New(nil)
				blob, stats, err := comp.Render(canvas.Tile{X: tx, Y: ty}, site, store.EnabledSnapshots(), opts)
				if err != nil {
					return cli.Exit(err, 1)
				}
				if err := os.WriteFile(c.String("out"), blob, 0644); err != nil {
					return cli.Exit(err, 1)
				}
				printer.Printf("%s: %d required, %d painted, %d wrong, %d missing\n",
					c.String("out"), stats.Required, stats.Painted, stats.Wrong, stats.Missing())
				return nil
			},
		},
		{
			Name:      "progress",
			Usage:     "Analyze a site tile and print totals by color",
			ArgsUsage: "TILEX TILEY SITE.png",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "include-wrong", Usage: "count wrong pixels as painted"},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() < 3 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}
				tx, err := parseInt(c, 0)
				if err != nil {
					return cli.Exit(err, 1)
				}
				ty, err := parseInt(c, 1)
				if err != nil {
					return cli.Exit(err, 1)
				}
				site, err := os.ReadFile(c.Args().Get(2))
				if err != nil {
					return cli.Exit(err, 1)
				}

				store, closeStore, err := openStore(c)
				if err != nil {
					return cli.Exit(err, 1)
				}
				defer closeStore()

				comp := compositor.New(nil)
				stats, err := comp.Analyze(canvas.Tile{X: tx, Y: ty}, site, store.EnabledSnapshots())
				if err != nil {
					return cli.Exit(err, 1)
				}

				ids := make([]int, 0, len(stats.Colors))
				for id := range stats.Colors {
					ids = append(ids, id)
				}
				sort.Ints(ids)
				for _, id := range ids {
					cs := stats.Colors[id]
					printer.Printf("%-16s %8d required %8d painted %8d wrong\n",
						palette.Lookup(id).Name, cs.Required, cs.Painted, cs.Wrong)
				}

				painted := stats.Painted
				if c.Bool("include-wrong") {
					painted += stats.Wrong
				}
				pct := float64(100)
				if stats.Required > 0 {
					pct = float64(painted) / float64(stats.Required) * 100
					if pct > 99.99 && painted < stats.Required {
						pct = 99.99
					}
				}
				printer.Printf("total: %d/%d (%.2f%%)\n", painted, stats.Required, pct)
				return nil
			},
		},
		{
			Name:  "palette",
			Usage: "List the site palette",
			Action: func(c *cli.Context) error {
				for id := 1; id < palette.Size(); id++ {
					e := palette.Lookup(id)
					tier := "free"
					if palette.IsPremium(id) {
						tier = "premium"
					}
					printer.Printf("%2d  %-20s #%02x%02x%02x  %s\n", id, e.Name, e.R, e.G, e.B, tier)
				}
				return nil
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
