package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cynergists/specter/internal/ingest"
	"github.com/cynergists/specter/internal/model"
)

var (
	ingestTenant      string
	ingestConcurrency int
	ingestUserAgent   string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Replay tracker payload files through the ingest pipeline",
	Long: "Reads payload batches from JSON files (one object, an array of objects, or JSON lines " +
		"when the file ends in .jsonl) and ingests them for a tenant. Files are processed " +
		"concurrently; batches within a file keep their order.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ingestTenant == "" {
			return eris.New("--tenant is required")
		}

		env, err := initEnv(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		tenant, err := env.Store.GetTenant(ctx, ingestTenant)
		if err != nil {
			return eris.Wrap(err, "ingest: load tenant")
		}

		stats, err := replayFiles(ctx, env.Ingest, tenant, args, ingestConcurrency,
			ingest.RequestMeta{UserAgent: ingestUserAgent})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "files=%d batches=%d rejected=%d events=%d bot_events=%d\n",
			len(args), stats.Batches.Load(), stats.Rejected.Load(), stats.Events.Load(), stats.BotEvents.Load())
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestTenant, "tenant", "", "tenant id (required)")
	ingestCmd.Flags().IntVar(&ingestConcurrency, "concurrency", 4, "files processed in parallel")
	ingestCmd.Flags().StringVar(&ingestUserAgent, "user-agent", "", "user agent recorded for batches whose events carry none")
	rootCmd.AddCommand(ingestCmd)
}

type ingester interface {
	Ingest(ctx context.Context, tenant *model.Tenant, p *ingest.Payload, meta ingest.RequestMeta) (*ingest.Summary, error)
}

type replayStats struct {
	Batches   atomic.Int64
	Rejected  atomic.Int64
	Events    atomic.Int64
	BotEvents atomic.Int64
}

// replayFiles ingests every file with at most concurrency files in flight.
// Invalid batches are counted and skipped; any other error stops the replay.
func replayFiles(ctx context.Context, ing ingester, tenant *model.Tenant, files []string, concurrency int, meta ingest.RequestMeta) (*replayStats, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	stats := &replayStats{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, path := range files {
		g.Go(func() error {
			payloads, err := readPayloadFile(path)
			if err != nil {
				return err
			}
			for i, p := range payloads {
				sum, err := ing.Ingest(gctx, tenant, p, meta)
				var verr *ingest.ValidationError
				if errors.As(err, &verr) {
					stats.Rejected.Add(1)
					zap.L().Warn("ingest: batch rejected",
						zap.String("file", path),
						zap.Int("index", i),
						zap.String("reason", verr.Error()),
					)
					continue
				}
				if err != nil {
					return eris.Wrapf(err, "ingest: %s batch %d", path, i)
				}
				stats.Batches.Add(1)
				stats.Events.Add(int64(sum.EventsPersisted))
				stats.BotEvents.Add(int64(sum.BotEventsFiltered))
			}
			return nil
		})
	}
	return stats, g.Wait()
}

// readPayloadFile decodes the batches in one file.
func readPayloadFile(path string) ([]*ingest.Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read %s", path)
	}

	if filepath.Ext(path) == ".jsonl" {
		return decodeLines(path, bytes.NewReader(data))
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var out []*ingest.Payload
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, eris.Wrapf(err, "ingest: decode %s", path)
		}
		return out, nil
	}
	var p ingest.Payload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, eris.Wrapf(err, "ingest: decode %s", path)
	}
	return []*ingest.Payload{&p}, nil
}

func decodeLines(path string, r io.Reader) ([]*ingest.Payload, error) {
	var out []*ingest.Payload
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var p ingest.Payload
		if err := json.Unmarshal(b, &p); err != nil {
			return nil, eris.Wrapf(err, "ingest: decode %s line %d", path, line)
		}
		out = append(out, &p)
	}
	return out, eris.Wrapf(sc.Err(), "ingest: scan %s", path)
}
