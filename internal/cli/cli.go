// Package cli содержит команды операторской утилиты digestctl.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ezra-digest/internal/adapters/telegram"
	"ezra-digest/internal/app"
	"ezra-digest/internal/domain"
	"ezra-digest/internal/infra/config"
	"ezra-digest/internal/usecase/channels"
	"ezra-digest/internal/usecase/digest"
	"ezra-digest/internal/usecase/schedule"
)

var (
	okMark   = color.New(color.FgGreen).Sprint("✓")
	warnMark = color.New(color.FgYellow).Sprint("!")
	failMark = color.New(color.FgRed).Sprint("✗")
)

// RootCmd собирает дерево команд.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "digestctl",
		Short:         "Управление конвейером дайджестов",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(migrateCmd(), cycleCmd(), regenerateCmd(), latestCmd(), channelsCmd())
	return root
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Создать или обновить схему хранилища",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			store, err := app.OpenStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "%s Схема %s применена\n", okMark, strings.ToLower(cfg.Storage.Driver))
			return nil
		},
	}
}

func cycleCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Построить дайджест по необработанным сообщениям и разослать его",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				return run(ctx, cmd.OutOrStdout(), rt, digest.Unprocessed(), dryRun)
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "только построить и сохранить, без рассылки")
	return cmd
}

func regenerateCmd() *cobra.Command {
	var (
		date   string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "regenerate",
		Short: "Пересобрать дайджест за календарный день и разослать его",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				day, err := parseDay(date, rt.Location, time.Now())
				if err != nil {
					return err
				}
				return run(ctx, cmd.OutOrStdout(), rt, digest.CalendarDay(day), dryRun)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "день в формате YYYY-MM-DD (по умолчанию сегодня в TZ)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "только построить и сохранить, без рассылки")
	return cmd
}

func latestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Показать последний дайджест",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				d, err := rt.Store.LatestDigest(ctx)
				if errors.Is(err, domain.ErrNotFound) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s Дайджестов пока нет\n", warnMark)
					return nil
				}
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Дайджест за %s (создан %s)\n\n", domain.DateKey(d.Date), d.CreatedAt.In(rt.Location).Format(time.RFC3339))
				fmt.Fprintln(out, d.Content)
				return nil
			})
		},
	}
}

func channelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Каналы-источники",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Список каналов",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				list, err := channels.NewService(rt.Store, nil).ListChannels(ctx)
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Каналы не настроены")
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tНАЗВАНИЕ\tАЛИАС\tДОБАВИЛ")
				for _, ch := range list {
					handle := "-"
					if ch.Handle != "" {
						handle = "@" + ch.Handle
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", ch.ID, ch.Name, handle, ch.AddedBy)
				}
				return w.Flush()
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <id>",
		Short: "Удалить канал (сообщения остаются)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := channels.ParseChannelID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				removed, err := channels.NewService(rt.Store, nil).RemoveChannel(ctx, id)
				if err != nil {
					return err
				}
				if !removed {
					fmt.Fprintf(cmd.OutOrStdout(), "%s Канал %d не найден\n", warnMark, id)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Канал %d удалён\n", okMark, id)
				return nil
			})
		},
	})
	return cmd
}

func withRuntime(cmd *cobra.Command, fn func(context.Context, *app.Runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen}).
		With().Timestamp().Logger().Level(zerolog.WarnLevel)
	rt, err := app.Bootstrap(ctx, config.Load(), logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func run(ctx context.Context, out io.Writer, rt *app.Runtime, sel digest.Selection, dryRun bool) error {
	if dryRun {
		res, err := rt.Digests().RunCycle(ctx, sel)
		if err != nil {
			return err
		}
		printCycle(out, sel, res)
		return nil
	}

	if err := rt.Cfg.ValidateBot(); err != nil {
		return fmt.Errorf("для рассылки нужен бот (или --dry-run): %w", err)
	}
	botAPI, err := tgbotapi.NewBotAPI(rt.Cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("бот: %w", err)
	}
	report, err := rt.Scheduler(telegram.NewSender(botAPI)).Trigger(ctx, sel)
	if err != nil {
		return err
	}
	printCycle(out, sel, report.Cycle)
	printDelivery(out, report)
	return nil
}

func printCycle(out io.Writer, sel digest.Selection, res digest.Result) {
	if res.Empty {
		fmt.Fprintf(out, "%s Нет сообщений (%s), дайджест не построен\n", warnMark, sel)
		return
	}
	fmt.Fprintf(out, "%s Дайджест за %s: сообщений %d, помечено обработанными %d\n",
		okMark, domain.DateKey(res.Digest.Date), res.Messages, res.Marked)
}

func printDelivery(out io.Writer, report schedule.TriggerReport) {
	if report.Cycle.Empty {
		return
	}
	d := report.Delivery
	fmt.Fprintf(out, "%s Доставлено %d из %d\n", okMark, d.Delivered, d.Recipients)
	for _, f := range d.Failures {
		fmt.Fprintf(out, "  %s %d: %v\n", failMark, f.UserID, f.Err)
	}
}

// parseDay разбирает YYYY-MM-DD в зоне loc. Пустая строка означает сегодня.
func parseDay(raw string, loc *time.Location, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		n := now.In(loc)
		return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc), nil
	}
	day, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("дата %q: ожидается YYYY-MM-DD", raw)
	}
	return day, nil
}
