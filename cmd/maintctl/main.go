// Command maintctl runs imports and dataset maintenance against the
// configured store without going through the HTTP server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/JonMunkholm/maintrack/internal/config"
	"github.com/JonMunkholm/maintrack/internal/core"
	_ "github.com/JonMunkholm/maintrack/internal/core/formats"
	"github.com/JonMunkholm/maintrack/internal/logging"
	"github.com/JonMunkholm/maintrack/internal/store"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

// opener returns a ready service and a func releasing its store.
type opener func(ctx context.Context) (*core.Service, func(), error)

type app struct {
	out  io.Writer
	open opener
}

func main() {
	_ = godotenv.Overload()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	slog.SetDefault(logging.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format))

	a := &app{out: os.Stdout, open: storeOpener(cfg)}
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}
	if err := a.command().Run(context.Background(), args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", core.MapError(err).Message)
		slog.Debug("command failed", "error", err)
		os.Exit(1)
	}
}

func storeOpener(cfg *config.Config) opener {
	return func(ctx context.Context) (*core.Service, func(), error) {
		b, err := store.Open(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		svc, err := core.NewService(ctx, b.Dataset, cfg.ServiceConfig(), b.Options()...)
		if err != nil {
			b.Close()
			return nil, nil, err
		}
		return svc, b.Close, nil
	}
}

// with opens the service for the duration of fn.
func (a *app) with(ctx context.Context, fn func(*core.Service) error) error {
	svc, closeFn, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(svc)
}

func (a *app) command() *cli.Command {
	return &cli.Command{
		Name:   "maintctl",
		Usage:  "Equipment maintenance imports and dataset tools",
		Writer: a.out,
		Commands: []*cli.Command{
			a.autodetectCommand(),
			a.importCommand(),
			a.workOrdersCommand(),
			a.reportsCommand(),
			a.snapshotsCommand(),
			a.backupCommand(),
			a.repairCommand(),
			a.statsCommand(),
		},
	}
}

func jsonFlag() cli.Flag { return &cli.BoolFlag{Name: "json", Usage: "output raw JSON"} }

func (a *app) autodetectCommand() *cli.Command {
	return &cli.Command{
		Name:      "autodetect",
		Usage:     "Show the column mapping detected for a file",
		ArgsUsage: "FILE",
		Flags:     []cli.Flag{jsonFlag()},
		Action: func(ctx context.Context, c *cli.Command) error {
			path := c.Args().First()
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("%w: %v", core.ErrNoFile, err)
			}
			return a.with(ctx, func(svc *core.Service) error {
				t, err := svc.ParseUpload(path, data)
				if err != nil {
					return err
				}
				m := svc.Autodetect(t.Header)
				if c.Bool("json") {
					return a.printJSON(m)
				}
				rows := make([][]string, 0, len(core.Roles))
				for _, role := range core.Roles {
					rows = append(rows, []string{string(role), orDash(m.Get(role))})
				}
				a.printTable([]string{"ROLE", "COLUMN"}, rows)
				return nil
			})
		},
	}
}

func (a *app) importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Preview an import file and apply it with --apply",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Required: true, Usage: "equipment, sectors, plans or dates"},
			&cli.StringFlag{Name: "mapping", Usage: `JSON role mapping, e.g. {"identity_tag":"TASY"}`},
			&cli.StringFlag{Name: "template", Usage: "saved mapping template id"},
			&cli.StringFlag{Name: "missing", Value: string(core.MissingIgnore), Usage: "ignore or mark_missing"},
			&cli.StringSliceFlag{Name: "only", Usage: "update only these fields (name, sector, model, ...)"},
			&cli.BoolFlag{Name: "apply", Usage: "apply the preview"},
			jsonFlag(),
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			path := c.Args().First()
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("%w: %v", core.ErrNoFile, err)
			}
			req := core.PreviewRequest{
				Mode:        core.ImportMode(c.String("mode")),
				FileName:    path,
				Data:        data,
				TemplateID:  c.String("template"),
				Flags:       core.AllUpdates(),
				MissingRows: core.MissingRowPolicy(c.String("missing")),
			}
			if v := c.String("mapping"); v != "" {
				if err := json.Unmarshal([]byte(v), &req.Mapping); err != nil {
					return fmt.Errorf("%w: mapping: %v", core.ErrInvalidTemplate, err)
				}
			}
			if only := c.StringSlice("only"); len(only) > 0 {
				flags, err := parseFlags(only)
				if err != nil {
					return err
				}
				req.Flags = flags
			}

			return a.with(ctx, func(svc *core.Service) error {
				h, err := svc.PreviewImport(ctx, req)
				if err != nil {
					return err
				}
				if !c.Bool("apply") {
					if c.Bool("json") {
						return a.printJSON(h.Preview)
					}
					a.printPreview(h.Preview)
					fmt.Fprintln(a.out, "dry run: pass --apply to commit")
					return nil
				}
				res, err := svc.ApplyPreview(ctx, h.ID)
				if err != nil {
					return err
				}
				if c.Bool("json") {
					return a.printJSON(res)
				}
				fmt.Fprintf(a.out, "applied: %s\n", res)
				return nil
			})
		},
	}
}

// parseFlags turns field names into update flags; unlisted fields stay off.
func parseFlags(names []string) (core.UpdateFlags, error) {
	var f core.UpdateFlags
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "name":
			f.Name = true
		case "sector":
			f.Sector = true
		case "model":
			f.Model = true
		case "asset_tag", "patrimonio":
			f.AssetTag = true
		case "type":
			f.Type = true
		case "status":
			f.Status = true
		case "dates":
			f.Dates = true
		case "periodicity":
			f.Periodicity = true
		case "activity":
			f.Activity = true
		case "report_link":
			f.ReportLink = true
		default:
			return f, fmt.Errorf("unknown update field %q", n)
		}
	}
	return f, nil
}

func (a *app) workOrdersCommand() *cli.Command {
	return &cli.Command{
		Name:    "workorders",
		Aliases: []string{"os"},
		Usage:   "Work order commands",
		Commands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "Open work orders for plans due within the horizon",
				Action: func(ctx context.Context, c *cli.Command) error {
					return a.with(ctx, func(svc *core.Service) error {
						created, err := svc.GenerateWorkOrders(ctx)
						if err != nil {
							return err
						}
						fmt.Fprintf(a.out, "%d work orders opened\n", len(created))
						return nil
					})
				},
			},
			{
				Name:  "list",
				Usage: "List work orders",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "open or fulfilled"},
					jsonFlag(),
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return a.with(ctx, func(svc *core.Service) error {
						list := svc.ListWorkOrders(core.WorkOrderStatus(c.String("status")))
						if c.Bool("json") {
							return a.printJSON(list)
						}
						rows := make([][]string, 0, len(list))
						for _, o := range list {
							rows = append(rows, []string{fmt.Sprint(o.Sequence), o.EquipmentKey, o.Activity, orDash(o.DueDate), string(o.State)})
						}
						a.printTable([]string{"OS", "EQUIPMENT", "ACTIVITY", "DUE", "STATE"}, rows)
						return nil
					})
				},
			},
			{
				Name:  "fulfill",
				Usage: "Close an open work order that has a report",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "seq", Required: true},
					&cli.StringFlag{Name: "date", Usage: "fulfilment date; defaults to today"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return a.with(ctx, func(svc *core.Service) error {
						o, err := svc.FulfillWorkOrder(ctx, c.Int("seq"), c.String("date"))
						if err != nil {
							return err
						}
						fmt.Fprintf(a.out, "OS %d fulfilled on %s\n", o.Sequence, o.FulfilledAt)
						return nil
					})
				},
			},
		},
	}
}

func (a *app) reportsCommand() *cli.Command {
	return &cli.Command{
		Name:  "reports",
		Usage: "Inspection report commands",
		Commands: []*cli.Command{{
			Name:  "scan",
			Usage: "Link report files to equipment and close covered work orders",
			Action: func(ctx context.Context, c *cli.Command) error {
				return a.with(ctx, func(svc *core.Service) error {
					sum, err := svc.ScanReports(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(a.out, sum)
					return nil
				})
			},
		}},
	}
}

func (a *app) snapshotsCommand() *cli.Command {
	return &cli.Command{
		Name:  "snapshots",
		Usage: "Dataset snapshot commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List stored snapshots, newest first",
				Flags: []cli.Flag{&cli.IntFlag{Name: "limit", Value: 20}, jsonFlag()},
				Action: func(ctx context.Context, c *cli.Command) error {
					return a.with(ctx, func(svc *core.Service) error {
						snaps, err := svc.ListSnapshots(ctx, c.Int("limit"))
						if err != nil {
							return err
						}
						if c.Bool("json") {
							return a.printJSON(snaps)
						}
						rows := make([][]string, 0, len(snaps))
						for _, sn := range snaps {
							rows = append(rows, []string{sn.ID, fmt.Sprint(sn.Size), sn.CreatedAt.Format("2006-01-02 15:04:05")})
						}
						a.printTable([]string{"ID", "BYTES", "CREATED"}, rows)
						return nil
					})
				},
			},
			{
				Name:      "restore",
				Usage:     "Replace the dataset with a snapshot",
				ArgsUsage: "ID",
				Action: func(ctx context.Context, c *cli.Command) error {
					id := c.Args().First()
					if id == "" {
						return fmt.Errorf("snapshot id is required")
					}
					return a.with(ctx, func(svc *core.Service) error {
						rep, err := svc.RestoreSnapshot(ctx, id)
						if err != nil {
							return err
						}
						a.printDecode(rep, svc.Snapshot().Revision)
						return nil
					})
				},
			},
		},
	}
}

func (a *app) backupCommand() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Export or import the whole dataset as JSON",
		Commands: []*cli.Command{
			{
				Name:  "export",
				Usage: "Write the dataset to a file, or stdout",
				Flags: []cli.Flag{&cli.StringFlag{Name: "out", Aliases: []string{"o"}}},
				Action: func(ctx context.Context, c *cli.Command) error {
					return a.with(ctx, func(svc *core.Service) error {
						data, err := svc.ExportDataset()
						if err != nil {
							return err
						}
						if path := c.String("out"); path != "" {
							return os.WriteFile(path, data, 0o644)
						}
						_, err = a.out.Write(append(data, '\n'))
						return err
					})
				},
			},
			{
				Name:      "import",
				Usage:     "Replace the dataset with a backup file",
				ArgsUsage: "FILE",
				Action: func(ctx context.Context, c *cli.Command) error {
					data, err := os.ReadFile(c.Args().First())
					if err != nil {
						return fmt.Errorf("%w: %v", core.ErrNoFile, err)
					}
					return a.with(ctx, func(svc *core.Service) error {
						rep, err := svc.ImportDataset(ctx, data)
						if err != nil {
							return err
						}
						a.printDecode(rep, svc.Snapshot().Revision)
						return nil
					})
				},
			},
		},
	}
}

func (a *app) repairCommand() *cli.Command {
	return &cli.Command{
		Name:  "repair",
		Usage: "Backfill sector ids, plan keys and work order numbers",
		Action: func(ctx context.Context, c *cli.Command) error {
			return a.with(ctx, func(svc *core.Service) error {
				rep, err := svc.RepairDataset(ctx)
				if err != nil {
					return err
				}
				a.printKV([][2]string{
					{"sectors linked", fmt.Sprint(rep.SectorsLinked)},
					{"plan sequences", fmt.Sprint(rep.PlanSequences)},
					{"plan keys", fmt.Sprint(rep.PlanKeys)},
					{"work order numbers", fmt.Sprint(rep.WorkOrderNumbers)},
				})
				return nil
			})
		},
	}
}

func (a *app) statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show dataset counts",
		Flags: []cli.Flag{jsonFlag()},
		Action: func(ctx context.Context, c *cli.Command) error {
			return a.with(ctx, func(svc *core.Service) error {
				st := svc.Stats()
				if c.Bool("json") {
					return a.printJSON(st)
				}
				a.printKV([][2]string{
					{"revision", fmt.Sprint(st.Revision)},
					{"equipment", fmt.Sprintf("%d (%d active)", st.Equipment, st.ActiveEquipment)},
					{"plans", fmt.Sprintf("%d (%d active)", st.Plans, st.ActivePlans)},
					{"sectors", fmt.Sprint(st.Sectors)},
					{"types", fmt.Sprint(st.Types)},
					{"reports", fmt.Sprint(st.Reports)},
					{"open work orders", fmt.Sprintf("%d (%d overdue)", st.WorkOrders.Open, st.WorkOrders.Overdue)},
				})
				return nil
			})
		},
	}
}
