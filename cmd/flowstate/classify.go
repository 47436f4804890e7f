package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"example.com/flowstate/internal/domain"
	"example.com/flowstate/internal/normalize"
	"example.com/flowstate/internal/rejectlog"
)

type classifyResult struct {
	RawID  string                    `json:"raw_id,omitempty"`
	Record *normalize.ActivityRecord `json:"record,omitempty"`
	Reject string                    `json:"reject,omitempty"`
	Detail string                    `json:"detail,omitempty"`
}

func newClassifyCmd(a *app) *cobra.Command {
	var file string
	var noRejectLog bool
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Normalize raw records read as JSON lines and print the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := a.stdin
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				in = f
			}

			var rejects domain.RejectLog
			if !noRejectLog {
				store, err := rejectlog.Open(a.cfg.RejectLogPath)
				if err != nil {
					return err
				}
				defer store.Close()
				rejects = store
			}
			return a.classify(cmd, in, rejects)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read records from file instead of stdin")
	cmd.Flags().BoolVar(&noRejectLog, "no-reject-log", false, "do not record rejects in the local reject log")
	return cmd
}

// classify writes one JSON result per input line. Bad records never fail the
// run; only I/O errors do.
func (a *app) classify(cmd *cobra.Command, in io.Reader, rejects domain.RejectLog) error {
	assembler, err := a.assembler()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	enc := json.NewEncoder(a.stdout)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var raw normalize.RawInputRecord
		if err := json.Unmarshal([]byte(text), &raw); err != nil {
			if err := enc.Encode(classifyResult{Reject: normalize.RejectMalformed, Detail: fmt.Sprintf("line %d: %v", line, err)}); err != nil {
				return err
			}
			continue
		}

		result, err := classifyOne(ctx, assembler, raw, rejects)
		if err != nil {
			return err
		}
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

// classifyOne assembles raw and records the reject, if any, in rejects.
func classifyOne(ctx context.Context, assembler *normalize.Assembler, raw normalize.RawInputRecord, rejects domain.RejectLog) (classifyResult, error) {
	result := classifyResult{RawID: raw.ID}
	record, ok, err := assembler.Assemble(raw)
	switch {
	case err != nil:
		result.Reject = normalize.RejectMalformed
		result.Detail = err.Error()
	case !ok:
		result.Reject = normalize.RejectUnresolvedProject
	default:
		result.Record = &record
		return result, nil
	}

	if rejects == nil {
		return result, nil
	}
	kind := raw.Kind
	if kind == "" {
		kind = normalize.KindMemory
	}
	if err := rejects.Record(ctx, domain.Reject{
		RawID:      raw.ID,
		RawKind:    string(kind),
		Reason:     result.Reject,
		Detail:     result.Detail,
		Raw:        raw,
		RejectedAt: time.Now().UTC(),
	}); err != nil {
		return result, fmt.Errorf("record reject: %w", err)
	}
	return result, nil
}
