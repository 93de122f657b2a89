// Package setup is the interactive configuration wizard for the ledger server.
package setup

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/vadiminshakov/pnlledger/config"
)

// DefaultConfigFile is where the wizard writes its result.
const DefaultConfigFile = "ledger.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// RunTUI launches the terminal configuration wizard, saves the result to
// filename and returns it.
func RunTUI(filename string) (config.Config, error) {
	cfg := config.Default()
	if filename == "" {
		filename = DefaultConfigFile
	}

	var (
		segmentStr   = strconv.Itoa(cfg.SegmentThreshold)
		heartbeatStr = cfg.StreamHeartbeat.String()
		originsStr   string
		domainsStr   string
		confirm      bool
	)

	screen := func(step string) {
		fmt.Print("\033[H\033[2J")
		fmt.Println(headerStyle.Render("LEDGER CONFIG WIZARD"))
		fmt.Println(stepStyle.Render(step))
	}

	screen("STEP 1: STORAGE")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Trades are kept in a write-ahead log and replayed on start.\n"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Trade log directory").
				Value(&cfg.WALDir).
				Validate(notEmpty),
			huh.NewInput().
				Title("Trades per WAL segment").
				Value(&segmentStr).
				Validate(validatePositiveInt),
		),
	).Run()
	if err != nil {
		return config.Config{}, err
	}

	screen("STEP 2: HTTP API")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen address").
				Description("host:port, e.g. :8080").
				Value(&cfg.ListenAddr).
				Validate(validateListenAddr),
			huh.NewInput().
				Title("Allowed CORS origins").
				Description("Comma separated, empty allows any origin").
				Value(&originsStr),
			huh.NewConfirm().
				Title("Require owner signatures on trades?").
				Value(&cfg.RequireSignatures),
			huh.NewInput().
				Title("Event stream heartbeat").
				Value(&heartbeatStr).
				Validate(validateDuration),
			huh.NewInput().
				Title("TLS domains").
				Description("Comma separated hosts for automatic certificates, empty serves plain HTTP").
				Value(&domainsStr),
		),
	).Run()
	if err != nil {
		return config.Config{}, err
	}

	screen("STEP 3: LOGGING")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Log level").
				Options(
					huh.NewOption("Debug", "debug"),
					huh.NewOption("Info", "info"),
					huh.NewOption("Warn", "warn"),
					huh.NewOption("Error", "error"),
				).
				Value(&cfg.LogLevel),
			huh.NewSelect[string]().
				Title("Log encoding").
				Options(
					huh.NewOption("JSON", "json"),
					huh.NewOption("Console", "console"),
				).
				Value(&cfg.LogEncoding),
		),
	).Run()
	if err != nil {
		return config.Config{}, err
	}

	cfg.SegmentThreshold, _ = strconv.Atoi(segmentStr)
	cfg.StreamHeartbeat, _ = time.ParseDuration(heartbeatStr)
	cfg.CORSOrigins = splitCSV(originsStr)
	cfg.TLSDomains = splitCSV(domainsStr)

	screen("FINAL CONFIRMATION")
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(Summary(cfg)))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return config.Config{}, err
	}
	if !confirm {
		return config.Config{}, fmt.Errorf("setup cancelled by user")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	if err := config.Save(filename, cfg); err != nil {
		return config.Config{}, err
	}
	cfg.Path = filename

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s", filename)))
	return cfg, nil
}

// Summary renders the settings shown before saving.
func Summary(cfg config.Config) string {
	origins := "any"
	if len(cfg.CORSOrigins) > 0 {
		origins = strings.Join(cfg.CORSOrigins, ", ")
	}

	tlsDomains := "off"
	if len(cfg.TLSDomains) > 0 {
		tlsDomains = strings.Join(cfg.TLSDomains, ", ")
	}

	return fmt.Sprintf(
		"Trade log: %s (%d per segment)\nListen: %s\nCORS: %s\nTLS: %s\nSignatures: %t\nHeartbeat: %s\nLogs: %s/%s",
		cfg.WALDir, cfg.SegmentThreshold, cfg.ListenAddr, origins, tlsDomains, cfg.RequireSignatures,
		cfg.StreamHeartbeat, cfg.LogLevel, cfg.LogEncoding,
	)
}

func notEmpty(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("must not be empty")
	}
	return nil
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fmt.Errorf("must be a positive duration like 30s")
	}
	return nil
}

func validateListenAddr(s string) error {
	if _, _, err := net.SplitHostPort(s); err != nil {
		return fmt.Errorf("must be host:port")
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
