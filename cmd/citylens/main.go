package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/citylens/citylens/internal/backoff"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

type client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type runResp struct {
	RunID    string  `json:"run_id"`
	Status   string  `json:"status"`
	Stage    string  `json:"stage"`
	Progress int     `json:"progress"`
	Error    *string `json:"error"`
}

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

func (c *client) request(method, path string, body any) (int, []byte, error) {
	var buf *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		buf = bytes.NewReader(b)
	} else {
		buf = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.baseURL+path, buf)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, nil
}

func newClient(baseURL, apiKey string) *client {
	return &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// resolveAPIKey falls back to an interactive prompt so the key never has to
// appear in shell history.
func resolveAPIKey(apiKey string) (string, error) {
	if apiKey != "" {
		return apiKey, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("API key is required (set CITYLENS_API_KEY or --api-key)")
	}
	fmt.Fprint(os.Stderr, "API key: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	key := strings.TrimSpace(string(b))
	if key == "" {
		return "", errors.New("API key is required")
	}
	return key, nil
}

func main() {
	baseURL := getenv("CITYLENS_BASE_URL", "http://localhost:8080")
	apiKey := getenv("CITYLENS_API_KEY", "")
	ui := newUI()

	root := &cobra.Command{
		Use:   "citylens",
		Short: "CityLens CLI",
		Long:  "CityLens CLI for creating runs, watching progress, and precomputing the demo catalog.",
	}
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&baseURL, "base-url", baseURL, "Base URL for the CityLens API")
	root.PersistentFlags().StringVar(&apiKey, "api-key", apiKey, "Producer API key")

	root.AddCommand(runCmd(&baseURL, &apiKey, ui))
	root.AddCommand(precomputeCmd(&baseURL, &apiKey, ui))
	root.AddCommand(demoCmd(&baseURL, ui))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err)
		os.Exit(1)
	}
}

func runCmd(baseURL, apiKey *string, ui *ui) *cobra.Command {
	var (
		address      string
		imageryYear  int
		baselineYear int
		backend      string
		outputs      []string
	)

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(address) == "" {
				return errors.New("address is required")
			}
			key, err := resolveAPIKey(*apiKey)
			if err != nil {
				return err
			}
			c := newClient(*baseURL, key)
			body := map[string]any{
				"address":       address,
				"imagery_year":  imageryYear,
				"baseline_year": baselineYear,
			}
			if backend != "" {
				body["segmentation_backend"] = backend
			}
			if len(outputs) > 0 {
				body["outputs"] = outputs
			}

			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Creating run..."
			spin.Start()
			status, resp, err := c.request("POST", "/v1/runs", body)
			spin.Stop()
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			var out runResp
			if err := json.Unmarshal(resp, &out); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			fmt.Printf("%s Run created: %s\n", ui.ok("[OK]"), out.RunID)
			return nil
		},
	}
	create.Flags().StringVar(&address, "address", "", "Street address to analyze")
	create.Flags().IntVar(&imageryYear, "imagery-year", 0, "Imagery capture year")
	create.Flags().IntVar(&baselineYear, "baseline-year", 0, "Baseline comparison year")
	create.Flags().StringVar(&backend, "backend", "", "Segmentation backend")
	create.Flags().StringSliceVar(&outputs, "outputs", nil, "Requested output artifacts")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := resolveAPIKey(*apiKey)
			if err != nil {
				return err
			}
			c := newClient(*baseURL, key)
			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Fetching run..."
			spin.Start()
			status, resp, err := c.request("GET", "/v1/runs/"+url.PathEscape(args[0]), nil)
			spin.Stop()
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			fmt.Println(string(resp))
			return nil
		},
	}

	var pollSec int
	watch := &cobra.Command{
		Use:   "watch <id>",
		Short: "Watch a run until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := resolveAPIKey(*apiKey)
			if err != nil {
				return err
			}
			c := newClient(*baseURL, key)
			final, err := watchRun(c, args[0], time.Duration(pollSec)*time.Second)
			if err != nil {
				return err
			}
			if final.Status == "succeeded" {
				fmt.Printf("%s Run %s succeeded\n", ui.ok("[OK]"), final.RunID)
				return nil
			}
			reason := "unknown"
			if final.Error != nil {
				reason = *final.Error
			}
			return fmt.Errorf("run %s failed: %s", final.RunID, reason)
		},
	}
	watch.Flags().IntVar(&pollSec, "poll-seconds", 3, "Poll interval")

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run operations",
	}
	cmd.AddCommand(create, get, watch)
	return cmd
}

// watchRun polls the run until a terminal status, driving a progress bar off
// the reported percentage. Polls start fast and back off to the configured
// interval so short runs finish without a full wait.
func watchRun(c *client, runID string, interval time.Duration) (*runResp, error) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("queued"),
		progressbar.OptionSetWidth(18),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	for attempt := 0; ; attempt++ {
		status, resp, err := c.request("GET", "/v1/runs/"+url.PathEscape(runID), nil)
		if err != nil {
			return nil, err
		}
		if status >= 300 {
			return nil, fmt.Errorf("error (%d): %s", status, string(resp))
		}
		var out runResp
		if err := json.Unmarshal(resp, &out); err != nil {
			return nil, err
		}
		bar.Describe(out.Stage)
		_ = bar.Set(out.Progress)
		if out.Status == "succeeded" || out.Status == "failed" {
			_ = bar.Finish()
			return &out, nil
		}
		time.Sleep(backoff.Delay("exponential", 500*time.Millisecond, interval, attempt, nil))
	}
}

// seedEntry pairs the demo catalog metadata with the request to precompute.
type seedEntry struct {
	Category string `yaml:"category"`
	Label    string `yaml:"label"`
	Request  struct {
		Address             string   `yaml:"address"`
		ImageryYear         int      `yaml:"imageryYear"`
		BaselineYear        int      `yaml:"baselineYear"`
		SegmentationBackend string   `yaml:"segmentationBackend"`
		Outputs             []string `yaml:"outputs"`
	} `yaml:"request"`
}

type seedFile struct {
	Runs []seedEntry `yaml:"runs"`
}

type allowlistEntry struct {
	RunID               string   `json:"run_id"`
	Category            string   `json:"category"`
	Label               string   `json:"label"`
	Address             string   `json:"address"`
	ImageryYear         int      `json:"imagery_year"`
	BaselineYear        int      `json:"baseline_year"`
	SegmentationBackend string   `json:"segmentation_backend"`
	Outputs             []string `json:"outputs"`
}

func precomputeCmd(baseURL, apiKey *string, ui *ui) *cobra.Command {
	var (
		seedPath string
		outPath  string
		pollSec  int
	)
	cmd := &cobra.Command{
		Use:   "precompute",
		Short: "Precompute the demo catalog",
		Long:  "Creates one run per seed entry, waits for each to finish, and writes the demo allowlist JSON.",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := resolveAPIKey(*apiKey)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(seedPath)
			if err != nil {
				return fmt.Errorf("read seed file: %w", err)
			}
			var seed seedFile
			if err := yaml.Unmarshal(data, &seed); err != nil {
				return fmt.Errorf("parse seed file: %w", err)
			}
			if len(seed.Runs) == 0 {
				return errors.New("seed file has no runs")
			}

			c := newClient(*baseURL, key)
			entries := make([]allowlistEntry, 0, len(seed.Runs))

			for i, s := range seed.Runs {
				label := s.Label
				if label == "" {
					label = s.Request.Address
				}
				fmt.Printf("%s [%d/%d] %s\n", ui.info("[INFO]"), i+1, len(seed.Runs), label)

				body := map[string]any{
					"address":       s.Request.Address,
					"imagery_year":  s.Request.ImageryYear,
					"baseline_year": s.Request.BaselineYear,
				}
				if s.Request.SegmentationBackend != "" {
					body["segmentation_backend"] = s.Request.SegmentationBackend
				}
				if len(s.Request.Outputs) > 0 {
					body["outputs"] = s.Request.Outputs
				}

				status, resp, err := c.request("POST", "/v1/runs", body)
				if err != nil {
					return err
				}
				if status >= 300 {
					return fmt.Errorf("create run for %q: error (%d): %s", label, status, string(resp))
				}
				var created runResp
				if err := json.Unmarshal(resp, &created); err != nil {
					return fmt.Errorf("decode create response: %w", err)
				}

				final, err := watchRun(c, created.RunID, time.Duration(pollSec)*time.Second)
				if err != nil {
					return err
				}
				if final.Status != "succeeded" {
					fmt.Printf("%s run %s did not succeed; skipping\n", ui.warn("[WARN]"), created.RunID)
					continue
				}

				entries = append(entries, allowlistEntry{
					RunID:               created.RunID,
					Category:            s.Category,
					Label:               label,
					Address:             s.Request.Address,
					ImageryYear:         s.Request.ImageryYear,
					BaselineYear:        s.Request.BaselineYear,
					SegmentationBackend: s.Request.SegmentationBackend,
					Outputs:             s.Request.Outputs,
				})
			}

			if len(entries) == 0 {
				return errors.New("no runs succeeded; allowlist not written")
			}

			sort.Slice(entries, func(i, j int) bool {
				li, lj := strings.ToLower(entries[i].Label), strings.ToLower(entries[j].Label)
				if li != lj {
					return li < lj
				}
				return entries[i].RunID < entries[j].RunID
			})

			out, err := json.MarshalIndent(map[string]any{"runs": entries}, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, append(out, '\n'), 0o644); err != nil {
				return fmt.Errorf("write allowlist: %w", err)
			}
			fmt.Printf("%s Wrote %d entries to %s\n", ui.ok("[OK]"), len(entries), outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&seedPath, "seed", "deploy/demo_seed.yaml", "Seed YAML file")
	cmd.Flags().StringVar(&outPath, "out", "deploy/demo_runs.json", "Output allowlist JSON")
	cmd.Flags().IntVar(&pollSec, "poll-seconds", 5, "Poll interval per run")
	return cmd
}

func demoCmd(baseURL *string, ui *ui) *cobra.Command {
	featured := &cobra.Command{
		Use:   "featured",
		Short: "List the featured demo runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*baseURL, "")
			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Fetching catalog..."
			spin.Start()
			status, resp, err := c.request("GET", "/v1/demo/featured", nil)
			spin.Stop()
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			fmt.Println(string(resp))
			return nil
		},
	}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Public demo operations",
	}
	cmd.AddCommand(featured)
	return cmd
}
