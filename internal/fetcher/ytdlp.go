package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultBinary   = "yt-dlp"
	defaultTimeout  = time.Hour
	defaultFormat   = "bv*+ba/b"
	defaultRemux    = "mp4"
	outputTemplate  = "%(artist,uploader)s - %(title)s [%(id)s].%(ext)s"
	metadataTimeout = 60 * time.Second
	stderrTailBytes = 8 << 10
)

type Options struct {
	// Binary is the yt-dlp executable; defaults to "yt-dlp" on PATH.
	Binary string
	// Timeout bounds one Fetch call. Zero means one hour.
	Timeout time.Duration
	// Format overrides the -f selector.
	Format string
	// ExtraArgs are appended before the URL, e.g. cookies or proxy flags.
	ExtraArgs []string
}

// Fetcher drives the yt-dlp command line tool.
type Fetcher struct {
	binary    string
	timeout   time.Duration
	format    string
	extraArgs []string
}

// Result is the terminal outcome of one Fetch. Fetch never returns an error;
// every failure mode is folded into Success=false and ErrorMessage.
type Result struct {
	Success      bool   `json:"success"`
	FilePath     string `json:"file_path,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ProviderID   string `json:"provider_id,omitempty"`
	// Cancelled is set when the caller's context ended the run.
	Cancelled bool `json:"cancelled,omitempty"`
}

func New(opts Options) *Fetcher {
	f := &Fetcher{
		binary:    opts.Binary,
		timeout:   opts.Timeout,
		format:    opts.Format,
		extraArgs: opts.ExtraArgs,
	}
	if f.binary == "" {
		f.binary = defaultBinary
	}
	if f.timeout <= 0 {
		f.timeout = defaultTimeout
	}
	if f.format == "" {
		f.format = defaultFormat
	}
	return f
}

func (f *Fetcher) downloadArgs(url, outputDir string) []string {
	args := []string{
		"-f", f.format,
		"--remux-video", defaultRemux,
		"--no-playlist",
		"--restrict-filenames",
		"--newline",
		"--progress",
		"--no-colors",
		"-o", outputDir + string(os.PathSeparator) + outputTemplate,
		"--print", "after_move:" + resultMarker + "%(id)s\t%(filepath)s",
	}
	args = append(args, f.extraArgs...)
	return append(args, "--", url)
}

// Fetch downloads url into outputDir. onProgress is called synchronously from
// the output reader for every recognised progress line and may be nil.
// Cancelling ctx asks the process to stop with SIGINT and, after a grace
// period, kills it.
func (f *Fetcher) Fetch(ctx context.Context, url, outputDir string, onProgress func(Progress)) Result {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return Result{ErrorMessage: fmt.Sprintf("create output directory: %v", err)}
	}

	runCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	cmd := f.command(runCtx, f.downloadArgs(url, outputDir))
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{ErrorMessage: fmt.Sprintf("yt-dlp stdout: %v", err)}
	}
	stderr := &tailBuffer{max: stderrTailBytes}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		log.Printf("[fetcher] could not start %s: %v", f.binary, err)
		return Result{ErrorMessage: fmt.Sprintf("start yt-dlp: %v", err)}
	}

	var filePath, providerID string
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		line, ok := ParseLine(sc.Text())
		if !ok {
			continue
		}
		if line.Path != "" {
			filePath = line.Path
		}
		if line.ProviderID != "" {
			providerID = line.ProviderID
		}
		if p, ok := line.Progress(); ok && onProgress != nil {
			onProgress(p)
		}
	}
	waitErr := cmd.Wait()

	if providerID == "" {
		providerID = VideoIDFromURL(url)
	}
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return Result{Cancelled: true, ErrorMessage: "download cancelled", ProviderID: providerID, FilePath: filePath}
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return Result{ErrorMessage: fmt.Sprintf("download timed out after %s", f.timeout), ProviderID: providerID}
	case waitErr != nil:
		msg := errorText(stderr.String(), waitErr)
		log.Printf("[fetcher] %s: %s", url, msg)
		return Result{ErrorMessage: msg, ProviderID: providerID}
	case filePath == "":
		return Result{ErrorMessage: "yt-dlp finished without reporting an output file", ProviderID: providerID}
	}
	return Result{Success: true, FilePath: filePath, ProviderID: providerID}
}

// FetchMetadata asks yt-dlp for the info JSON of url without downloading.
func (f *Fetcher) FetchMetadata(ctx context.Context, url string) (*Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	args := append([]string{"-J", "--no-playlist", "--skip-download", "--no-warnings"}, f.extraArgs...)
	args = append(args, "--", url)
	out, err := f.output(ctx, args)
	if err != nil {
		return nil, err
	}
	return parseInfo(out)
}

// SearchTitles runs a ytsearch query and returns up to max hits in the order
// yt-dlp reports them.
func (f *Fetcher) SearchTitles(ctx context.Context, query string, max int) ([]SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if max <= 0 {
		max = 10
	}

	args := append([]string{"--flat-playlist", "-j", "--no-warnings"}, f.extraArgs...)
	args = append(args, "ytsearch"+strconv.Itoa(max)+":"+query)
	out, err := f.output(ctx, args)
	if err != nil {
		return nil, err
	}

	var hits []SearchHit
	seen := map[string]bool{}
	for _, raw := range bytes.Split(out, []byte("\n")) {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		hit, ok := parseSearchHit(raw)
		if !ok || seen[hit.ID] {
			continue
		}
		seen[hit.ID] = true
		hits = append(hits, hit)
		if len(hits) == max {
			break
		}
	}
	return hits, nil
}

func (f *Fetcher) output(ctx context.Context, args []string) ([]byte, error) {
	cmd := f.command(ctx, args)
	stderr := &tailBuffer{max: stderrTailBytes}
	cmd.Stderr = stderr
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("yt-dlp: %w", ctx.Err())
		}
		return nil, fmt.Errorf("yt-dlp: %s", errorText(stderr.String(), err))
	}
	return out, nil
}

func (f *Fetcher) command(ctx context.Context, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, f.binary, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = 10 * time.Second
	return cmd
}

// errorText prefers yt-dlp's own "ERROR:" lines over the exit status.
func errorText(stderr string, err error) string {
	var last, lastError string
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		last = line
		if strings.HasPrefix(line, "ERROR:") {
			lastError = line
		}
	}
	switch {
	case lastError != "":
		return lastError
	case last != "":
		return last
	case err != nil:
		return err.Error()
	}
	return "yt-dlp failed"
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
