package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hostalscan/guestfill/internal/config"
	"github.com/hostalscan/guestfill/internal/dom/memdoc"
	"github.com/hostalscan/guestfill/internal/history"
	"github.com/hostalscan/guestfill/internal/nativehost"
	"github.com/hostalscan/guestfill/internal/resolve"
	"github.com/hostalscan/guestfill/internal/router"
	"github.com/hostalscan/guestfill/internal/vision"
	"github.com/hostalscan/guestfill/internal/wait"
	"github.com/hostalscan/guestfill/internal/web"
)

const nativeHostName = "com.hostalscan.guestfill"

var cfgFile string

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "guestfill",
		Short: "guestfill - Fill Cloudbeds guest check-in forms from ID documents",
		Long: `guestfill fills the guest details form of a Cloudbeds reservation from
an identity document: a JSON record, or a photo read by a vision model.

It drives the Chrome window the front desk already has open, and can be
called from the browser extension over HTTP (serve) or native messaging
(native-host).`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.guestfill/config.yaml)")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(fillCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(previewCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(nativeHostCmd())
	rootCmd.AddCommand(historyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long:  "Create a new configuration file with the property's country, the Chrome connection and the vision API key.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

func runInit(force bool) error {
	path := resolveConfigPath()
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
	}

	reader := bufio.NewReader(os.Stdin)
	cfg := config.Default()

	fmt.Println("guestfill configuration")
	fmt.Println("=======================")
	fmt.Println()

	if v := prompt(reader, fmt.Sprintf("Property country code [%s]: ", cfg.Home.Country)); v != "" {
		cfg.Home.Country = strings.ToUpper(v)
	}
	if v := prompt(reader, fmt.Sprintf("Chrome DevTools URL [%s]: ", cfg.Browser.RemoteURL)); v != "" {
		cfg.Browser.RemoteURL = v
	}
	cfg.Vision.APIKey = prompt(reader, "Vision API key (optional, needed for scan): ")
	cfg.Server.AllowedOrigin = prompt(reader, "Extension origin, e.g. chrome-extension://<id> (optional): ")

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println()
	fmt.Printf("Configuration saved to %s\n", path)
	fmt.Println("Start Chrome with --remote-debugging-port=9222 and open a guest page, then run 'guestfill fill'.")
	return nil
}

func prompt(reader *bufio.Reader, message string) string {
	fmt.Print(message)
	input, err := reader.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(input)
}

// readImage loads a photo as a data URL.
func readImage(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	mime := http.DetectContentType(data)
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// reply prints a router reply and turns a failed one into an error exit.
func reply(v any) error {
	if err := printJSON(v); err != nil {
		return err
	}
	switch r := v.(type) {
	case router.FillResult:
		if !r.Success {
			return fmt.Errorf("fill failed: %s", r.Error)
		}
	case router.ErrorReply:
		return fmt.Errorf("%s", r.Error)
	}
	return nil
}

func fillCmd() *cobra.Command {
	var dataFile, imageFile string

	cmd := &cobra.Command{
		Use:   "fill",
		Short: "Fill the open guest form from a JSON record",
		Long: `Fill the Cloudbeds guest form open in Chrome from a guest record.

The record uses the extension's field names (firstName, lastName,
documentNumber, birthDate, nationality, issuingCountry, ...). With --image
the document photo is uploaded to the guest's documents as well.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFill(dataFile, imageFile)
		},
	}

	cmd.Flags().StringVar(&dataFile, "data", "", "JSON file with the guest record (- for stdin)")
	cmd.Flags().StringVar(&imageFile, "image", "", "Document photo to upload")
	cmd.MarkFlagRequired("data")

	return cmd
}

func readData(path string) ([]byte, error) {
	if path == "-" {
		return readAllStdin()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read guest data: %w", err)
	}
	return data, nil
}

func readAllStdin() ([]byte, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read stdin: %w", err)
	}
	return data, nil
}

func runFill(dataFile, imageFile string) error {
	data, err := readData(dataFile)
	if err != nil {
		return err
	}
	image, err := readImage(imageFile)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.openHistory(); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	r := a.router(a, nil)
	return reply(r.Handle(ctx, router.Request{
		Action:        router.ActionFill,
		Data:          data,
		ImageToUpload: image,
		ID:            uuid.NewString(),
		Origin:        history.SourceCLI,
	}))
}

func scanCmd() *cobra.Command {
	var front, back string
	var fill, uploadPhoto bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Read a guest record from a document photo",
		Long: `Send a document photo to the vision model and print the guest record.

With --back both sides of a national ID are checked and merged. With --fill
the record is written into the open guest form straight away.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(front, back, fill, uploadPhoto)
		},
	}

	cmd.Flags().StringVar(&front, "image", "", "Document photo (front side)")
	cmd.Flags().StringVar(&back, "back", "", "Back side of a national ID")
	cmd.Flags().BoolVar(&fill, "fill", false, "Fill the open guest form with the result")
	cmd.Flags().BoolVar(&uploadPhoto, "upload-photo", false, "Upload the front photo when filling")
	cmd.MarkFlagRequired("image")

	return cmd
}

func runScan(frontFile, backFile string, fill, uploadPhoto bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.cfg.ValidateVision(); err != nil {
		return err
	}

	front, err := readImage(frontFile)
	if err != nil {
		return err
	}
	back, err := readImage(backFile)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	client := a.visionClient()
	fmt.Fprintln(os.Stderr, "Reading document...")
	var res vision.Result
	if back != "" {
		res, err = client.ExtractTwoSided(ctx, front, back)
	} else {
		res, err = client.ExtractDocument(ctx, front)
	}
	if err != nil {
		return err
	}
	if err := printJSON(res.Record); err != nil {
		return err
	}
	if res.Usage != nil {
		fmt.Fprintf(os.Stderr, "Tokens used: %d\n", res.Usage.TotalTokens)
	}
	if !fill {
		return nil
	}

	if err := a.openHistory(); err != nil {
		return err
	}
	data, err := json.Marshal(res.Record)
	if err != nil {
		return err
	}
	req := router.Request{
		Action: router.ActionFill,
		Data:   data,
		ID:     uuid.NewString(),
		Origin: history.SourceCLI,
	}
	if uploadPhoto {
		req.ImageToUpload = front
	}
	return reply(a.router(a, nil).Handle(ctx, req))
}

func previewCmd() *cobra.Command {
	var pageFile, dataFile, pageURL, outFile string

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Fill a saved guest page offline",
		Long: `Run a fill against a saved copy of the guest page instead of Chrome.

Nothing is sent anywhere and delays are skipped. Use it to check what a
record will write before filling the real form; save a page with
'guestfill snapshot'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(pageFile, dataFile, pageURL, outFile)
		},
	}

	cmd.Flags().StringVar(&pageFile, "page", "", "Saved HTML of the guest page")
	cmd.Flags().StringVar(&dataFile, "data", "", "JSON file with the guest record (- for stdin)")
	cmd.Flags().StringVar(&pageURL, "url", "https://hotels.cloudbeds.com/connect/guest", "URL the page is treated as coming from")
	cmd.Flags().StringVar(&outFile, "out", "", "Write the filled page here")
	cmd.MarkFlagRequired("page")
	cmd.MarkFlagRequired("data")

	return cmd
}

func runPreview(pageFile, dataFile, pageURL, outFile string) error {
	data, err := readData(dataFile)
	if err != nil {
		return err
	}
	doc, err := memdoc.Open(pageURL, pageFile)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	clock := &wait.RecordingClock{}
	r := a.router(router.Static(doc), clock)
	res := r.Handle(context.Background(), router.Request{Action: router.ActionFill, Data: data, Origin: history.SourceCLI})
	if err := printJSON(res); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Skipped %s of waiting\n", clock.Total())

	for _, ev := range doc.Events() {
		fmt.Fprintf(os.Stderr, "  %s %s\n", ev.Type, ev.Target)
	}

	if outFile != "" {
		html, err := doc.HTML()
		if err != nil {
			return err
		}
		if err := os.WriteFile(outFile, []byte(html), 0600); err != nil {
			return fmt.Errorf("failed to write page: %w", err)
		}
	}
	return nil
}

func snapshotCmd() *cobra.Command {
	var outFile, screenshotDir string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save the open guest page for offline previews",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(outFile, screenshotDir)
		},
	}

	cmd.Flags().StringVar(&outFile, "out", "guest_page.html", "File to save the page HTML to")
	cmd.Flags().StringVar(&screenshotDir, "screenshot", "", "Also save a screenshot into this directory")

	return cmd
}

func runSnapshot(outFile, screenshotDir string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	p, err := a.page(ctx)
	if err != nil {
		return err
	}
	html, err := p.HTML(ctx)
	if err != nil {
		return fmt.Errorf("failed to read page: %w", err)
	}
	if err := os.WriteFile(outFile, []byte(html), 0600); err != nil {
		return fmt.Errorf("failed to write page: %w", err)
	}
	fmt.Printf("Saved %s\n", outFile)

	if screenshotDir != "" {
		name, err := p.Screenshot(ctx, screenshotDir, "guest")
		if err != nil {
			return fmt.Errorf("failed to take screenshot: %w", err)
		}
		fmt.Printf("Saved %s\n", filepath.Join(screenshotDir, name))
	}
	return nil
}

func resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Look up countries and municipalities the way a fill does",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "country <name|code|nationality>",
		Short: "Resolve a country or nationality to the form's country option",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolveCountry(strings.Join(args, " "))
		},
	})

	var province string
	muni := &cobra.Command{
		Use:   "municipality <city>",
		Short: "Resolve a city to the form's municipality entry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolveMunicipality(strings.Join(args, " "), province)
		},
	}
	muni.Flags().StringVar(&province, "province", "", "Province hint")
	cmd.AddCommand(muni)

	return cmd
}

func runResolveCountry(input string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	countries := resolve.NewCountries(a.datasets.Countries)
	if c, ok := countries.Resolve(input); ok {
		fmt.Printf("%s  %s\n", c.Code, c.Name)
		return nil
	}
	if name, score, ok := countries.MatchNationality(input); ok {
		fmt.Printf("%s  (nationality match, score %d)\n", name, score)
		return nil
	}
	return fmt.Errorf("no country matches %q", input)
}

func runResolveMunicipality(city, province string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	m, ok := resolve.MunicipalitiesFor(a.datasets).Resolve(city, province)
	if !ok {
		return fmt.Errorf("no municipality matches %q", city)
	}
	fmt.Printf("%s  (score %d)\n", m.Value, m.Score)
	return nil
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local HTTP bridge for the extension",
		Long: `Start a local HTTP server the browser extension talks to.

It listens on 127.0.0.1 only and accepts requests from the configured
extension origin. Endpoints:
  POST /api/message           extension messages (fillGuestForm, ping, checkEditMode)
  POST /api/scan              read a document photo, optionally fill
  GET  /api/job/{id}/status   scan progress
  POST /api/job/{id}/cancel   stop a scan
  GET  /api/history           recent fills`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (default from config)")

	return cmd
}

func runServe(port int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	if port > 0 {
		a.cfg.Server.Port = port
	}
	if err := a.cfg.ValidateServer(); err != nil {
		return err
	}
	if err := a.openHistory(); err != nil {
		return err
	}

	deps := web.Deps{
		Handler: a.router(a, nil),
		Logger:  a.log.Named("web"),
	}
	if a.store != nil {
		deps.Journal = a.store
	}
	if err := a.cfg.ValidateVision(); err == nil {
		deps.Extractor = a.visionClient()
	} else {
		a.log.Sugar().Infof("document scanning disabled: %v", err)
	}

	ctx, stop := signalContext()
	defer stop()

	fmt.Fprintf(os.Stderr, "guestfill bridge on http://127.0.0.1:%d (Ctrl+C to stop)\n", a.cfg.Server.Port)
	return web.NewServer(a.cfg.Server, deps).Start(ctx)
}

func nativeHostCmd() *cobra.Command {
	var manifest bool
	var extensionID string

	cmd := &cobra.Command{
		Use:   "native-host",
		Short: "Serve the extension over Chrome native messaging",
		Long: `Run as a Chrome native messaging host on stdin/stdout.

Chrome starts this command itself; register it with the manifest printed by
'guestfill native-host --manifest --extension-id <id>'.`,
		// Chrome passes the caller origin and, on Windows, --parent-window.
		Args:               cobra.ArbitraryArgs,
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			if manifest {
				return printManifest(extensionID)
			}
			return runNativeHost()
		},
	}

	cmd.Flags().BoolVar(&manifest, "manifest", false, "Print the native messaging host manifest and exit")
	cmd.Flags().StringVar(&extensionID, "extension-id", "", "Extension allowed to connect (with --manifest)")

	return cmd
}

func printManifest(extensionID string) error {
	if extensionID == "" {
		return fmt.Errorf("--extension-id is required with --manifest")
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}
	return printJSON(map[string]any{
		"name":            nativeHostName,
		"description":     "guestfill guest form filler",
		"path":            exe,
		"type":            "stdio",
		"allowed_origins": []string{"chrome-extension://" + extensionID + "/"},
	})
}

func runNativeHost() error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.openHistory(); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	host := nativehost.New(a.router(a, nil), os.Stdin, os.Stdout, a.log.Named("native"))
	return host.Serve(ctx)
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent fills and statistics",
		Long:  "Display recent fill outcomes and overall statistics. No guest data is stored, only outcomes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of recent fills to show")

	var days int
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete history entries older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryPrune(days)
		},
	}
	prune.Flags().IntVar(&days, "days", 0, "Keep this many days (default from config)")
	cmd.AddCommand(prune)

	return cmd
}

func openStore() (*history.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.History.Enabled {
		return nil, fmt.Errorf("history is disabled in the config")
	}
	store, err := history.NewStore(cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return store, nil
}

func runHistory(limit int) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Stats()
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Println("guestfill statistics")
	fmt.Println("--------------------")
	fmt.Printf("  Requests:        %d\n", stats.Total)
	fmt.Printf("  Filled:          %d\n", stats.Filled)
	fmt.Printf("  Failed:          %d\n", stats.Failed)
	fmt.Printf("  Blocked:         %d\n", stats.Blocked)
	fmt.Printf("  Photos uploaded: %d\n", stats.Photos)

	records, err := store.Recent(limit)
	if err != nil {
		return fmt.Errorf("failed to get recent fills: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	fmt.Println()
	fmt.Printf("Recent fills (last %d)\n", limit)
	fmt.Println("--------------------")
	for _, r := range records {
		line := fmt.Sprintf("%s  %-7s %-6s %2d fields",
			r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Status, r.Source, r.FilledCount)
		if r.PhotoUploaded {
			line += " +photo"
		}
		if r.DocumentType != "" || r.IssuingCountry != "" {
			line += fmt.Sprintf("  [%s %s]", r.DocumentType, r.IssuingCountry)
		}
		if r.Error != "" {
			line += "  " + r.Error
		}
		fmt.Println(line)
	}
	return nil
}

func runHistoryPrune(days int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if days <= 0 {
		days = cfg.History.RetentionDays
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Prune(time.Duration(days) * 24 * time.Hour)
	if err != nil {
		return fmt.Errorf("failed to prune history: %w", err)
	}
	fmt.Printf("Removed %d entries older than %d days\n", n, days)
	return nil
}
