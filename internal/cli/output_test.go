package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fleetsync/internal/model"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.SuccessWithTrace(data, "trace-1")
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Equal(t, "trace-1", resp.TraceID)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error(string(model.CodeNotFound), "machine not found", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "not_found", resp.Error.Code)
	assert.Equal(t, "machine not found", resp.Error.Message)
}

func TestOutputFormatter_JSONErrorWithDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	details := map[string]string{"validation": "duplicate_machine_ids"}
	err := formatter.Error("fleet_validation_failed", "descriptor rejected", details)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.NotNil(t, resp.Error.Details)
}

type textOnly struct{ n int }

func (v textOnly) writeText(w io.Writer) { fmt.Fprintf(w, "rendered %d\n", v.n) }

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	require.NoError(t, formatter.Success("All links handled"))
	assert.Contains(t, buf.String(), "All links handled")

	buf.Reset()
	require.NoError(t, formatter.Success(textOnly{n: 3}))
	assert.Equal(t, "rendered 3\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error("download_failed", "unexpected status 500", map[string]string{"url": "x"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [download_failed]")
	assert.Contains(t, buf.String(), "unexpected status 500")
	assert.NotContains(t, buf.String(), "Details:")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	details := map[string]string{"url": "https://data.example.com"}
	err := formatter.Error("download_failed", "unexpected status 500", details)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [download_failed]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_OperationError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	cause := &model.Error{Code: model.CodeCommitFailed, Detail: "rolled back 1 created machines"}
	err := formatter.OperationError("commit failed", fmt.Errorf("provision: %w", cause), nil)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, model.IsCode(err, model.CodeCommitFailed))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "commit_failed", resp.Error.Code)
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:  "text",
				Writer:  buf,
				Verbose: tt.verbose,
			}

			formatter.VerboseLog("Fetching %s", "db-latest.json")

			if tt.wantLog {
				assert.Contains(t, buf.String(), "Fetching db-latest.json")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestOutputFormatter_VerboseLogUsesErrWriter(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut, Verbose: true}

	formatter.VerboseLog("download %s %d%%", "downloading", 50)
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "download downloading 50%")
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, ExitSuccess, 0)
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "bad config", errors.New("x"))))

	wrapped := fmt.Errorf("outer: %w", NewExitError(ExitCommandError, "store"))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.Equal(t, "bad config: x", WrapExitError(ExitCommandError, "bad config", errors.New("x")).Error())
}

func TestCLIResponse_JSON(t *testing.T) {
	resp := CLIResponse{
		Status: "ok",
		Data:   map[string]int{"count": 42},
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded CLIResponse
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "ok", decoded.Status)
	assert.NotContains(t, string(data), "trace_id")
}
