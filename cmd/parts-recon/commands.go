package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/Rhymond/go-money"
	"github.com/peterbourgon/ff/v4"
	"github.com/shopspring/decimal"

	"github.com/zombor/parts-recon/internal/api"
	"github.com/zombor/parts-recon/internal/assist"
	"github.com/zombor/parts-recon/internal/document"
	"github.com/zombor/parts-recon/internal/extract"
	"github.com/zombor/parts-recon/internal/ingest"
	"github.com/zombor/parts-recon/internal/invoice"
	"github.com/zombor/parts-recon/internal/receipts"
	"github.com/zombor/parts-recon/internal/reconcile"
	"github.com/zombor/parts-recon/internal/store"
)

const defaultDSN = "parts-recon.db"

var errUsage = errors.New("usage")

// stdout receives command output.
var stdout io.Writer = os.Stdout

func dbFlag(fs *ff.FlagSet) *string {
	return fs.StringLong("db", defaultDSN, "store DSN: bolt://path, sqlite://path, postgres://... or a bare SQLite path")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ingestCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("ingest").SetParent(parent)
	var (
		dsn            = dbFlag(fs)
		out            = fs.StringLong("out", "./invoices", "directory for per-invoice PDFs")
		engine         = fs.StringLong("engine", string(document.EngineFitz), "text engine: fitz or rows")
		provider       = fs.StringLong("assist", assist.ProviderNone, "header assist: none, gemini or ollama")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llama3.1", "Ollama model name")
		skipDuplicates = fs.BoolLong("skip-duplicates", "skip invoices whose supplier and number are already stored")
		asJSON         = fs.BoolLong("json", "print the run summary as JSON")
	)

	return &ff.Command{
		Name:      "ingest",
		Usage:     "parts-recon ingest [FLAGS] FILE.pdf ...",
		ShortHelp: "split combined supplier PDFs into invoices and store them",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("%w: ingest needs at least one PDF", errUsage)
			}

			text, err := document.NewTextSource(document.Engine(*engine))
			if err != nil {
				return err
			}

			key := *geminiKey
			if key == "" {
				key = os.Getenv("GEMINI_API_KEY")
			}
			assistant, err := assist.New(assist.Config{
				Provider:     *provider,
				GeminiAPIKey: key,
				GeminiModel:  *geminiModel,
				OllamaURL:    *ollamaURL,
				OllamaModel:  *ollamaModel,
			})
			if err != nil {
				return fmt.Errorf("initializing assist: %w", err)
			}
			if assistant != nil {
				defer assistant.Close()
			}

			artifacts, err := ingest.NewLocalArtifacts(*out)
			if err != nil {
				return err
			}

			st, err := openStore(ctx, *dsn)
			if err != nil {
				return err
			}
			defer st.Close()

			svc := ingest.NewService(st, artifacts, text, assistant)
			for _, path := range args {
				summary, err := svc.IngestFile(ctx, path, ingest.Options{SkipDuplicates: *skipDuplicates})
				if err != nil {
					return fmt.Errorf("ingesting %s: %w", path, err)
				}
				if *asJSON {
					if err := printJSON(stdout, summary); err != nil {
						return err
					}
					continue
				}
				printIngestSummary(stdout, summary)
			}
			return nil
		},
	}
}

func printIngestSummary(w io.Writer, s *ingest.Summary) {
	fmt.Fprintf(w, "%s: %d pages, %d invoices stored, %d duplicates, %d lines\n",
		s.Source, s.Pages, s.Inserted, s.Duplicates, s.Lines)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEG\tPAGES\tRULES\tSUPPLIER\tINVOICE\tLINES\tSTATUS")
	for _, o := range s.Outcomes {
		status := "stored"
		if o.Duplicate {
			status = "duplicate"
		}
		fmt.Fprintf(tw, "%d\t%d-%d\t%s\t%s\t%s\t%d\t%s\n",
			o.Segment, o.FirstPage, o.LastPage, o.RuleSet, o.Invoice.SupplierName, o.Invoice.Number, o.Lines, status)
	}
	tw.Flush()
	if s.Tally.Skipped > 0 {
		fmt.Fprintf(w, "%d rows skipped\n", s.Tally.Skipped)
	}
}

func extractCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("extract").SetParent(parent)
	var (
		engine = fs.StringLong("engine", string(document.EngineFitz), "text engine: fitz or rows")
		dump   = fs.StringLong("dump", "", "write parsed line rows to this CSV file")
		asJSON = fs.BoolLong("json", "print headers and items as JSON")
	)

	return &ff.Command{
		Name:      "extract",
		Usage:     "parts-recon extract [FLAGS] FILE.pdf",
		ShortHelp: "parse a combined PDF without storing anything",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("%w: extract needs exactly one PDF", errUsage)
			}
			text, err := document.NewTextSource(document.Engine(*engine))
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}

			parsed, pages, err := ingest.NewService(nil, nil, text, nil).Parse(data)
			if err != nil {
				return err
			}

			if *dump != "" {
				var rows []extract.DumpRow
				for _, p := range parsed {
					rows = append(rows, extract.DumpRows(p.Group.Index, p.Result)...)
				}
				if err := writeFile(*dump, func(w io.Writer) error {
					return extract.DumpLines(w, rows)
				}); err != nil {
					return err
				}
			}

			if *asJSON {
				return printJSON(stdout, parsed)
			}

			fmt.Fprintf(stdout, "%s: %d pages, %d invoices\n", filepath.Base(args[0]), pages, len(parsed))
			for _, p := range parsed {
				h := p.Result.Header
				fmt.Fprintf(stdout, "\n[%d] pages %d-%d  rules=%s\n", p.Group.Index, p.Group.FirstPage, p.Group.LastPage, p.Result.RuleSet)
				fmt.Fprintf(stdout, "  supplier: %s (%s)\n  invoice:  %s  date: %s  po: %s\n",
					h.Supplier, h.Class, h.InvoiceNumber, h.InvoiceDate, h.PONumber)
				fmt.Fprintf(stdout, "  subtotal: %s  total: %s\n", nullAmount(h.Subtotal), nullAmount(h.Total))
				tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
				for _, it := range p.Result.Items {
					fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", it.PartNumber, nullAmount(it.Quantity), nullAmount(it.LineTotal), it.Description)
				}
				tw.Flush()
				if p.Result.Tally.Skipped > 0 {
					fmt.Fprintf(stdout, "  %d rows skipped\n", p.Result.Tally.Skipped)
				}
			}
			return nil
		},
	}
}

func nullAmount(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.String()
}

func writeFile(path string, fn func(w io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()
	return fn(f)
}

func importReceiptsCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("import-receipts").SetParent(parent)
	var (
		dsn        = dbFlag(fs)
		source     = fs.StringLong("source", receipts.DefaultSource, "source label stored on the batch")
		transcodes = fs.StringLong("transcodes", "", "comma separated transcodes to import (default all)")
		asJSON     = fs.BoolLong("json", "print the import summary as JSON")
	)

	return &ff.Command{
		Name:      "import-receipts",
		Usage:     "parts-recon import-receipts [FLAGS] FILE.csv|FILE.xlsx ...",
		ShortHelp: "import a dealer receiving export",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("%w: import-receipts needs at least one file", errUsage)
			}
			st, err := openStore(ctx, *dsn)
			if err != nil {
				return err
			}
			defer st.Close()

			var codes []string
			for _, c := range strings.Split(*transcodes, ",") {
				if c = strings.TrimSpace(c); c != "" {
					codes = append(codes, c)
				}
			}

			im := receipts.NewImporter(st, nil)
			for _, path := range args {
				summary, err := im.ImportFile(ctx, path, receipts.Options{Source: *source, Transcodes: codes})
				if err != nil {
					return err
				}
				if *asJSON {
					if err := printJSON(stdout, summary); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintf(stdout, "%s: batch %d, %d rows, %d imported, %d skipped\n",
					filepath.Base(path), summary.BatchID, summary.Tally.Total, summary.Tally.Accepted, summary.Tally.Skipped)
				for _, is := range summary.Tally.Issues {
					fmt.Fprintf(stdout, "  row %d: %s\n", is.Row, is.Message)
				}
			}
			return nil
		},
	}
}

func reportCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("report").SetParent(parent)
	var (
		dsn         = dbFlag(fs)
		variant     = fs.StringLong("variant", string(reconcile.VariantFCA), "report variant: fca or manual")
		supplier    = fs.StringLong("supplier", "", "supplier name substring (manual variant)")
		scopeBilled = fs.BoolLong("scope-billed", "apply --supplier to billed lines as well")
		limit       = fs.IntLong("limit", 0, "maximum rows per list (0 for all)")
		format      = fs.StringLong("format", "text", "output format: text or json")
		xlsxPath    = fs.StringLong("xlsx", "", "also write the report to this XLSX file")
	)

	return &ff.Command{
		Name:      "report",
		Usage:     "parts-recon report [FLAGS]",
		ShortHelp: "compare billed and received quantities per part",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			v, err := reconcile.ParseVariant(*variant)
			if err != nil {
				return err
			}
			if *format != "text" && *format != "json" {
				return fmt.Errorf("%w: unknown format %q (valid: text, json)", errUsage, *format)
			}

			st, err := openStore(ctx, *dsn)
			if err != nil {
				return err
			}
			defer st.Close()

			report, err := reconcile.NewEngine(st, nil).Run(ctx, v, reconcile.Options{
				Supplier:    *supplier,
				ScopeBilled: *scopeBilled,
				Limit:       *limit,
			})
			if err != nil {
				return err
			}

			if *xlsxPath != "" {
				if err := writeFile(*xlsxPath, func(w io.Writer) error {
					return reconcile.WriteXLSX(w, report)
				}); err != nil {
					return err
				}
			}
			if *format == "json" {
				return reconcile.WriteJSON(stdout, report)
			}
			return reconcile.WriteText(stdout, report)
		},
	}
}

func displayMoney(d decimal.Decimal) string {
	return money.NewFromFloat(d.InexactFloat64(), money.CAD).Display()
}

func suppliersCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("suppliers").SetParent(parent)
	dsn := dbFlag(fs)

	return &ff.Command{
		Name:      "suppliers",
		Usage:     "parts-recon suppliers [FLAGS]",
		ShortHelp: "list suppliers with invoice counts and billed totals",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			st, err := openStore(ctx, *dsn)
			if err != nil {
				return err
			}
			defer st.Close()

			suppliers, err := st.ListSuppliers(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSUPPLIER\tCLASS\tINVOICES\tTOTAL BILLED")
			for _, s := range suppliers {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", s.ID, s.Name, s.Class, s.Invoices, displayMoney(s.TotalBilled))
			}
			return tw.Flush()
		},
	}
}

func partsCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("parts").SetParent(parent)
	var (
		dsn    = dbFlag(fs)
		number = fs.StringLong("invoice", "", "only this invoice number")
		limit  = fs.IntLong("limit", 0, "maximum invoices (0 for all)")
		last   = fs.BoolLong("last", "with --limit, show the newest invoices")
	)

	return &ff.Command{
		Name:      "parts",
		Usage:     "parts-recon parts [FLAGS]",
		ShortHelp: "list stored invoices with their parts",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			st, err := openStore(ctx, *dsn)
			if err != nil {
				return err
			}
			defer st.Close()

			invoices, err := st.ListInvoices(ctx, store.InvoiceFilter{Number: *number, Limit: *limit, Last: *last})
			if err != nil {
				return err
			}
			for _, inv := range invoices {
				items, err := st.ListLineItems(ctx, inv.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "#%d %s %s %s total %s (%d lines)\n",
					inv.ID, inv.SupplierName, inv.Number, inv.Date, nullAmount(inv.Total), len(items))
				tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
				for _, it := range items {
					fmt.Fprintf(tw, "  %s\t%s\t%s\n", it.PartNumber, nullAmount(it.Quantity), it.Description)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func codingCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("coding").SetParent(parent)
	var (
		dsn    = dbFlag(fs)
		asJSON = fs.BoolLong("json", "print the coding as JSON")
	)

	return &ff.Command{
		Name:      "coding",
		Usage:     "parts-recon coding [FLAGS] INVOICE_ID",
		ShortHelp: "show the GL distribution of a stored invoice",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("%w: coding needs an invoice ID", errUsage)
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("%w: invalid invoice ID %q", errUsage, args[0])
			}

			st, err := openStore(ctx, *dsn)
			if err != nil {
				return err
			}
			defer st.Close()

			inv, err := st.GetInvoice(ctx, id)
			if err != nil {
				return fmt.Errorf("loading invoice %d: %w", id, err)
			}
			lines := invoice.Coding(inv)
			if *asJSON {
				return printJSON(stdout, lines)
			}

			fmt.Fprintf(stdout, "Invoice %s  %s  %s\n", inv.Number, inv.SupplierName, inv.Date)
			tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
			for _, l := range lines {
				fmt.Fprintf(tw, "%s\t%s\t%s\t\n", l.Account, l.Label, l.Amount.StringFixed(2))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if inv.Total.Valid {
				fmt.Fprintf(stdout, "Invoice total: %s\n", inv.Total.Decimal.StringFixed(2))
			}
			return nil
		},
	}
}

func serveCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(parent)
	var (
		dsn      = dbFlag(fs)
		out      = fs.StringLong("out", "./invoices", "directory holding per-invoice PDFs")
		port     = fs.IntLong("port", 8080, "HTTP server port")
		authUser = fs.StringLong("auth-user", "", "basic auth username (optional)")
		authPass = fs.StringLong("auth-pass", "", "basic auth password (optional)")
	)

	return &ff.Command{
		Name:      "serve",
		Usage:     "parts-recon serve [FLAGS]",
		ShortHelp: "serve stored data and reports as JSON",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			st, err := openStore(ctx, *dsn)
			if err != nil {
				return err
			}
			defer st.Close()

			artifacts, err := ingest.NewLocalArtifacts(*out)
			if err != nil {
				return err
			}

			server := api.NewServer(st, reconcile.NewEngine(st, nil), artifacts, api.BasicAuth{
				Username: *authUser,
				Password: *authPass,
			})
			if *authUser != "" || *authPass != "" {
				slog.Info("basic auth enabled", "user", *authUser)
			}
			return server.Start(ctx, fmt.Sprintf(":%d", *port))
		},
	}
}
