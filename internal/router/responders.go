package router

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/diitku/diitku-offline/internal/errors"
)

// maxShareMemory bounds the text values read from a multipart form.
const maxShareMemory = 10 << 20

// SharedPayload is the echoed share-target submission. Missing text
// fields encode as null.
type SharedPayload struct {
	Title *string  `json:"title"`
	Text  *string  `json:"text"`
	URL   *string  `json:"url"`
	Files []string `json:"files"`
}

type shareResponse struct {
	Success bool          `json:"success"`
	Data    SharedPayload `json:"data"`
}

// WidgetData is the placeholder balance widget payload.
type WidgetData struct {
	Balance int `json:"balance"`
	Income  int `json:"income"`
	Expense int `json:"expense"`
}

// GoalsWidgetData is the placeholder goals widget payload.
type GoalsWidgetData struct {
	Goals          []any `json:"goals"`
	TotalGoals     int   `json:"totalGoals"`
	CompletedGoals int   `json:"completedGoals"`
}

func handleShare(w http.ResponseWriter, r *http.Request, _ string) error {
	payload, err := ParseShare(r)
	if err != nil {
		return err
	}
	return writeJSON(w, shareResponse{Success: true, Data: *payload})
}

func handleFile(w http.ResponseWriter, _ *http.Request, _ string) error {
	w.Header().Set("Content-Type", "text/plain;charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	_, err := w.Write([]byte("File handled"))
	return err
}

func handleWidgetData(w http.ResponseWriter, _ *http.Request, _ string) error {
	return writeJSON(w, WidgetData{})
}

func handleWidgetGoals(w http.ResponseWriter, _ *http.Request, _ string) error {
	return writeJSON(w, GoalsWidgetData{Goals: []any{}})
}

// ParseShare reads a share-target form, urlencoded or multipart. Any other
// body fails. "files" lists uploaded file names and plain values posted as
// "files" in submission order.
func ParseShare(r *http.Request) (*SharedPayload, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		values url.Values
		files  []string
		err    error
	)
	switch mediaType {
	case "multipart/form-data":
		values, files, err = readMultipartShare(r)
	case "application/x-www-form-urlencoded":
		if err = r.ParseForm(); err == nil {
			values = r.PostForm
			files = values["files"]
		}
	default:
		return nil, errors.Newf("unsupported share content type %q", mediaType).
			Component("router").
			Category(errors.CategoryValidation).
			Context("route", RouteShare).
			Build()
	}
	if err != nil {
		return nil, errors.New(err).
			Component("router").
			Category(errors.CategoryValidation).
			Context("route", RouteShare).
			Build()
	}

	return &SharedPayload{
		Title: formValue(values, "title"),
		Text:  formValue(values, "text"),
		URL:   formValue(values, "url"),
		Files: append([]string{}, files...),
	}, nil
}

// readMultipartShare walks the parts in order. File contents are discarded.
func readMultipartShare(r *http.Request) (url.Values, []string, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, nil, err
	}
	values := url.Values{}
	var files []string
	remaining := int64(maxShareMemory)
	for {
		part, err := mr.NextPart()
		// A truncated body wraps io.EOF and stays an error.
		if err == io.EOF {
			return values, files, nil
		}
		if err != nil {
			return nil, nil, err
		}
		name := part.FormName()
		if part.FileName() != "" {
			if name == "files" {
				files = append(files, part.FileName())
			}
			_, err = io.Copy(io.Discard, part)
		} else {
			var b []byte
			b, err = io.ReadAll(io.LimitReader(part, remaining+1))
			remaining -= int64(len(b))
			if err == nil && remaining < 0 {
				err = errors.NewStd("share form too large")
			}
			if err == nil {
				values.Add(name, string(b))
				if name == "files" {
					files = append(files, string(b))
				}
			}
		}
		part.Close()
		if err != nil {
			return nil, nil, err
		}
	}
}

// formValue returns the first posted value, or nil when absent.
func formValue(values url.Values, key string) *string {
	vs, ok := values[key]
	if !ok || len(vs) == 0 {
		return nil
	}
	v := vs[0]
	return &v
}

func writeJSON(w http.ResponseWriter, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(body)
	return err
}
