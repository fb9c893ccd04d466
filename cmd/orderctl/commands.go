package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	orderops "github.com/goliatone/go-orderops"
	"github.com/goliatone/go-orderops/audit"
	"github.com/goliatone/go-orderops/cli"
	"github.com/goliatone/go-orderops/console"
	"github.com/goliatone/go-orderops/cron"
	"github.com/goliatone/go-orderops/httpapi"
	"github.com/goliatone/go-orderops/internal/mockbackend"
	"github.com/goliatone/go-orderops/orchestrator"
)

const (
	groupRead    = "Read"
	groupActions = "Actions"
	groupServe   = "Servers"
)

type command struct {
	cfg     cli.Config
	handler any
}

func (c command) CLIHandler() any        { return c.handler }
func (c command) CLIOptions() cli.Config { return c.cfg }

func commands() []cli.Command {
	serve := []cli.GroupConfig{{Name: "serve", Description: "Run the console API or a local mock backend."}}
	return []cli.Command{
		command{cli.Config{Name: "show", Description: "Show an order and the actions it allows.", Group: groupRead}, &showCmd{}},
		command{cli.Config{Name: "trail", Description: "Print the order audit trail, newest first.", Group: groupRead, Aliases: []string{"history"}}, &trailCmd{}},
		command{cli.Config{Name: "reasons", Description: "List the rejection reason catalog.", Group: groupRead}, &reasonsCmd{}},
		command{cli.Config{Name: "watch", Description: "Poll an order and print every change.", Group: groupRead}, &watchCmd{}},
		command{cli.Config{Name: "confirm", Description: "Confirm a placed order.", Group: groupActions}, &confirmCmd{}},
		command{cli.Config{Name: "complete", Description: "Complete a confirmed order.", Group: groupActions}, &completeCmd{}},
		command{cli.Config{Name: "cancel", Description: "Cancel an order.", Group: groupActions}, &cancelCmd{}},
		command{cli.Config{Name: "capture", Description: "Capture the order payment.", Group: groupActions}, &captureCmd{}},
		command{cli.Config{Name: "ship", Description: "Book a shipment for the order.", Group: groupActions}, &shipCmd{}},
		command{cli.Config{Name: "note", Description: "Append an internal note.", Group: groupActions}, &noteCmd{}},
		command{cli.Config{Name: "override", Description: "Allow or forbid rejecting a confirmed order.", Group: groupActions}, &overrideCmd{}},
		command{cli.Config{Name: "reject", Description: "Reject an order and apologize to the customer.", Group: groupActions}, &rejectCmd{}},
		command{cli.Config{Path: []string{"serve", "api"}, Description: "Serve the console JSON API.", Group: groupServe, Groups: serve}, &serveAPICmd{}},
		command{cli.Config{Path: []string{"serve", "mock-backend"}, Description: "Serve an in-memory backend for local use.", Group: groupServe, Groups: serve}, &serveMockCmd{}},
	}
}

type showCmd struct {
	OrderID string `arg:"" name:"order-id" help:"Order id."`
}

func (c *showCmd) Run(app *App) error {
	con, err := app.Console()
	if err != nil {
		return err
	}
	view, err := console.Query[console.GetOrderView, console.View](app.Context(), con, console.GetOrderView{OrderID: c.OrderID})
	if err != nil {
		return err
	}
	if app.Globals.JSON {
		return printJSON(app, view)
	}

	o := view.Order
	tw := tabwriter.NewWriter(app.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Order\t%s (%s)\n", o.Label(), o.ID)
	fmt.Fprintf(tw, "Status\t%s\n", o.Status)
	if o.PaymentStatus != "" {
		fmt.Fprintf(tw, "Payment\t%s\n", o.PaymentStatus)
	}
	if o.Customer.Email != "" || o.Customer.Name != "" {
		fmt.Fprintf(tw, "Customer\t%s\n", strings.TrimSpace(o.Customer.Name+" "+o.Customer.Email))
	}
	fmt.Fprintf(tw, "Total\t%.2f %s\n", o.Totals.Total, o.Totals.Currency)
	if o.ShipmentRef != "" {
		fmt.Fprintf(tw, "Shipment\t%s\n", o.ShipmentRef)
	}
	actions := "-"
	if len(view.Actions) > 0 {
		actions = strings.Join(view.Actions, ", ")
	}
	fmt.Fprintf(tw, "Actions\t%s\n", actions)
	if view.Busy != "" {
		fmt.Fprintf(tw, "Running\t%s\n", view.Busy)
	}
	fmt.Fprintf(tw, "Events\t%d\n", len(view.Trail))
	return tw.Flush()
}

type trailCmd struct {
	OrderID string `arg:"" name:"order-id" help:"Order id."`
	Limit   int    `help:"Only print the newest entries." default:"0"`
}

func (c *trailCmd) Run(app *App) error {
	con, err := app.Console()
	if err != nil {
		return err
	}
	entries, err := console.Query[console.GetTrail, []audit.Entry](app.Context(), con, console.GetTrail{OrderID: c.OrderID})
	if err != nil {
		return err
	}
	if c.Limit > 0 && len(entries) > c.Limit {
		entries = entries[:c.Limit]
	}
	if app.Globals.JSON {
		return printJSON(app, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(app.Out, "No events recorded.")
		return nil
	}
	return audit.WriteText(app.Out, entries)
}

type reasonsCmd struct{}

func (c *reasonsCmd) Run(app *App) error {
	con, err := app.Console()
	if err != nil {
		return err
	}
	reasons := con.Reasons()
	if app.Globals.JSON {
		return printJSON(app, reasons)
	}
	tw := tabwriter.NewWriter(app.Out, 0, 4, 2, ' ', 0)
	for _, r := range reasons {
		fmt.Fprintf(tw, "%s\t%s\n", r.Code, r.Text)
	}
	return tw.Flush()
}

type watchCmd struct {
	OrderID  string `arg:"" name:"order-id" help:"Order id."`
	Schedule string `help:"Cron expression or @every interval, defaults to the configured one."`
	Changes  int    `help:"Exit after this many changes, 0 watches until interrupted." default:"0"`
}

func (c *watchCmd) Run(app *App) error {
	con, err := app.Console()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(app.Context())
	defer cancel()

	scheduler := cron.NewScheduler(
		cron.WithLogger(con.Logger()),
		cron.WithErrorHandler(func(err error) {
			fmt.Fprintf(app.Err, "refresh failed: %v\n", err)
		}),
	)

	seen := make(chan struct{}, 1)
	_, err = con.Watch(scheduler, c.OrderID, c.Schedule, func(ch console.Change) {
		printChange(app, ch)
		select {
		case seen <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop(context.Background())

	count := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-seen:
			count++
			if c.Changes > 0 && count >= c.Changes {
				return nil
			}
		}
	}
}

func printChange(app *App, ch console.Change) {
	if app.Globals.JSON {
		_ = printJSON(app, ch)
		return
	}
	o := ch.View.Order
	stamp := time.Now().Format("15:04:05")
	switch {
	case ch.First:
		fmt.Fprintf(app.Out, "%s %s is %s\n", stamp, o.Label(), o.Status)
	case ch.StatusChanged():
		fmt.Fprintf(app.Out, "%s %s moved %s -> %s\n", stamp, o.Label(), ch.Previous, o.Status)
	default:
		fmt.Fprintf(app.Out, "%s %s has %d new event(s)\n", stamp, o.Label(), ch.NewEvents)
	}
}

type confirmCmd struct {
	OrderID string `arg:"" name:"order-id" help:"Order id."`
	Note    string `help:"Note recorded with the status change."`
}

func (c *confirmCmd) Run(app *App) error {
	return act(app, func(ctx context.Context, con *console.Console) orchestrator.Outcome {
		return console.Act(ctx, con, console.ConfirmOrder{OrderID: c.OrderID, Principal: app.Principal(), Note: c.Note})
	})
}

type completeCmd struct {
	OrderID string `arg:"" name:"order-id" help:"Order id."`
	Note    string `help:"Note recorded with the status change."`
}

func (c *completeCmd) Run(app *App) error {
	return act(app, func(ctx context.Context, con *console.Console) orchestrator.Outcome {
		return console.Act(ctx, con, console.CompleteOrder{OrderID: c.OrderID, Principal: app.Principal(), Note: c.Note})
	})
}

type cancelCmd struct {
	OrderID string `arg:"" name:"order-id" help:"Order id."`
	Note    string `help:"Note recorded with the status change."`
}

func (c *cancelCmd) Run(app *App) error {
	return act(app, func(ctx context.Context, con *console.Console) orchestrator.Outcome {
		return console.Act(ctx, con, console.CancelOrder{OrderID: c.OrderID, Principal: app.Principal(), Note: c.Note})
	})
}

type captureCmd struct {
	OrderID   string  `arg:"" name:"order-id" help:"Order id."`
	Amount    float64 `help:"Amount to capture, 0 captures the order total."`
	Currency  string  `help:"Currency, defaults to the order currency."`
	Method    string  `help:"Payment method label."`
	Reference string  `help:"External payment reference."`
}

func (c *captureCmd) Run(app *App) error {
	return act(app, func(ctx context.Context, con *console.Console) orchestrator.Outcome {
		return console.Act(ctx, con, console.CapturePayment{
			OrderID:   c.OrderID,
			Principal: app.Principal(),
			Amount:    c.Amount,
			Currency:  c.Currency,
			Method:    c.Method,
			Reference: c.Reference,
		})
	})
}

type shipCmd struct {
	OrderID string `arg:"" name:"order-id" help:"Order id."`
	Courier string `help:"Courier code."`
	Service string `help:"Courier service code."`
}

func (c *shipCmd) Run(app *App) error {
	return act(app, func(ctx context.Context, con *console.Console) orchestrator.Outcome {
		return console.Act(ctx, con, console.BookShipment{
			OrderID:     c.OrderID,
			Principal:   app.Principal(),
			CourierCode: c.Courier,
			ServiceCode: c.Service,
		})
	})
}

type noteCmd struct {
	OrderID string   `arg:"" name:"order-id" help:"Order id."`
	Text    []string `arg:"" help:"Note text."`
}

func (c *noteCmd) Run(app *App) error {
	return act(app, func(ctx context.Context, con *console.Console) orchestrator.Outcome {
		return console.Act(ctx, con, console.AddNote{
			OrderID:   c.OrderID,
			Principal: app.Principal(),
			Text:      strings.Join(c.Text, " "),
		})
	})
}

type overrideCmd struct {
	OrderID string `arg:"" name:"order-id" help:"Order id."`
	Disable bool   `help:"Clear the override instead of setting it."`
}

func (c *overrideCmd) Run(app *App) error {
	return act(app, func(ctx context.Context, con *console.Console) orchestrator.Outcome {
		return console.Act(ctx, con, console.SetRejectOverride{
			OrderID:   c.OrderID,
			Principal: app.Principal(),
			Enabled:   !c.Disable,
		})
	})
}

type rejectCmd struct {
	OrderID string   `arg:"" name:"order-id" help:"Order id."`
	Reason  []string `short:"r" help:"Reason code or text, repeatable. See 'orderctl reasons'."`
	Note    string   `help:"Internal note, never sent to the customer."`
	Apology string   `help:"Apology text replacing the generated draft."`
	NoEmail bool     `name:"no-email" help:"Skip the apology email."`
	NoInApp bool     `name:"no-inapp" help:"Skip the in-app notification."`
}

func (c *rejectCmd) Run(app *App) error {
	email, inApp := !c.NoEmail, !c.NoInApp
	return act(app, func(ctx context.Context, con *console.Console) orchestrator.Outcome {
		return console.Act(ctx, con, console.RejectOrder{
			OrderID:   c.OrderID,
			Principal: app.Principal(),
			Reasons:   c.Reason,
			Note:      c.Note,
			Apology:   c.Apology,
			SendEmail: &email,
			SendInApp: &inApp,
		})
	})
}

type serveAPICmd struct {
	Addr string `help:"Listen address, defaults to the configured one."`
}

func (c *serveAPICmd) Run(app *App) error {
	con, err := app.Console()
	if err != nil {
		return err
	}
	addr := c.Addr
	if addr == "" {
		addr = con.Config().HTTP.Addr
	}
	return httpapi.New(con).ListenAndServe(app.Context(), addr)
}

type serveMockCmd struct {
	Addr  string `help:"Listen address." default:":8081"`
	Empty bool   `help:"Start without demo orders."`
}

func (c *serveMockCmd) Run(app *App) error {
	var opts []mockbackend.Option
	if !c.Empty {
		opts = append(opts, mockbackend.WithOrders(demoOrders()...))
	}
	srv := &http.Server{
		Addr:              c.Addr,
		Handler:           mockbackend.New(opts...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(app.Err, "mock backend listening on %s\n", c.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-app.Context().Done():
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

func demoOrders() []mockbackend.SeedOrder {
	return []mockbackend.SeedOrder{
		{ID: "o-1001", Number: "1001", Status: "PLACED", CustomerID: "c-1", CustomerName: "Ada Lovelace", CustomerEmail: "ada@example.com", Total: 42.5, Currency: "EUR"},
		{ID: "o-1002", Number: "1002", Status: "CONFIRMED", PaymentStatus: "PAID", CustomerID: "c-2", CustomerName: "Grace Hopper", CustomerEmail: "grace@example.com", Total: 128, Currency: "EUR"},
		{ID: "o-1003", Number: "1003", Status: "COMPLETED", CustomerID: "c-3", CustomerEmail: "alan@example.com", Total: 9.99, Currency: "GBP"},
	}
}

func act(app *App, run func(context.Context, *console.Console) orchestrator.Outcome) error {
	con, err := app.Console()
	if err != nil {
		return err
	}
	out := run(app.Context(), con)
	if app.Globals.JSON {
		if err := printJSON(app, out.Report); err != nil {
			return err
		}
	} else {
		printReport(app, out.Report)
	}
	if !out.OK {
		return errReported
	}
	return nil
}

func printReport(app *App, r orderops.ActionReport) {
	w := app.Out
	if r.Type == orderops.ReportError {
		w = app.Err
	}
	fmt.Fprintln(w, r.String())
}

func printJSON(app *App, v any) error {
	enc := json.NewEncoder(app.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
