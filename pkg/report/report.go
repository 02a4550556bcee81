// Package report renders fleet reports for operators and other tools.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"fleetsync/pkg/fleet"
)

type Format string

const (
	FormatText    Format = "text"
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatCSV, FormatJSON, FormatConsole:
		return f, nil
	case "":
		return FormatConsole, nil
	}
	return "", fmt.Errorf("unknown report format: %s", s)
}

func Write(w io.Writer, r *fleet.FleetReport, f Format) error {
	switch f {
	case FormatText:
		return WriteText(w, r)
	case FormatCSV:
		return WriteCSV(w, r)
	case FormatJSON:
		return WriteJSON(w, r)
	case FormatConsole:
		return WriteConsole(w, r)
	}
	return fmt.Errorf("unknown report format: %s", f)
}

// WriteText writes one line per host followed by the run summary.
func WriteText(w io.Writer, r *fleet.FleetReport) error {
	for _, res := range r.Results {
		if _, err := fmt.Fprintf(w, "%s: %s\n", res.Host.DisplayName(), res); err != nil {
			return err
		}
		if res.Succeeded {
			continue
		}
		for _, e := range res.Errors {
			if e == res.TopLevelError {
				continue
			}
			if _, err := fmt.Fprintf(w, "    %s\n", e); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintln(w, r.Summary())
	return err
}

var csvHeader = []string{
	"run_id", "region", "hostname", "kind", "succeeded",
	"total_files", "successful_files", "failed_files", "retries", "duration_ms", "error",
}

func WriteCSV(w io.Writer, r *fleet.FleetReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for _, res := range r.Results {
		row := []string{
			r.RunID,
			res.Host.Region,
			res.Host.Hostname,
			string(res.Kind),
			strconv.FormatBool(res.Succeeded),
			strconv.Itoa(res.TotalFiles),
			strconv.Itoa(res.SuccessfulFiles),
			strconv.Itoa(res.FailedFiles),
			strconv.Itoa(res.Retries),
			strconv.FormatInt(res.Duration.Milliseconds(), 10),
			res.Reason(),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func WriteJSON(w io.Writer, r *fleet.FleetReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
