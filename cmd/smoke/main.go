package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
)

// envelope mirrors serverutils.BaseResponse without importing the server.
type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

var client = &http.Client{Timeout: 3 * time.Minute}

func prettyPrint(raw []byte) {
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(out.String())
}

func send(req *http.Request, token string) (*http.Response, []byte, error) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	return resp, body, err
}

func sendJSON(method, url, token string, payload interface{}) (*http.Response, []byte, error) {
	var body io.Reader
	if payload != nil {
		b, _ := json.Marshal(payload)
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return send(req, token)
}

func sendFile(url, token, field, path string) (*http.Response, []byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return nil, nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, nil, err
	}
	if err := w.Close(); err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return send(req, token)
}

// step prints the outcome of one request and exits on failure.
// Called as step("title")(sendJSON(...)).
func step(title string) func(*http.Response, []byte, error) envelope {
	return func(resp *http.Response, body []byte, err error) envelope {
		return report(title, resp, body, err)
	}
}

func report(title string, resp *http.Response, body []byte, err error) envelope {
	color.Yellow("\n%s", title)
	if err != nil {
		color.Red("Failed: %v", err)
		os.Exit(1)
	}
	if resp.StatusCode >= 300 {
		color.Red("Status: %s", resp.Status)
		prettyPrint(body)
		os.Exit(1)
	}
	color.Green("Status: %s", resp.Status)

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		// history is a bare array
		prettyPrint(body)
		return envelope{Success: true, Data: body}
	}
	prettyPrint(env.Data)
	return env
}

func main() {
	baseURL := flag.String("url", "http://localhost:3000/api", "API base URL")
	document := flag.String("doc", "", "document to upload (pdf, txt, docx)")
	question := flag.String("q", "What is this document about?", "question to ask")
	flag.Parse()

	if *document == "" {
		color.Red("usage: smoke -doc policy.pdf [-q question] [-url base]")
		os.Exit(2)
	}

	color.Cyan("🚀 Document Q&A smoke test against %s\n", *baseURL)

	env := step("1. Create Session")(sendJSON(http.MethodPost, *baseURL+"/session/v1", "", nil))
	var created struct {
		SessionID string `json:"session_id"`
		Token     string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil || created.Token == "" {
		color.Red("No token in response: %v", err)
		os.Exit(1)
	}
	token := created.Token

	step("2. Upload Document")(sendFile(*baseURL+"/docqa/v1/document", token, "file", *document))
	step("3. Upload Same Document Again (should be reused)")(sendFile(*baseURL+"/docqa/v1/document", token, "file", *document))

	env = step("4. Ask")(sendJSON(http.MethodPost, *baseURL+"/docqa/v1/ask", token, map[string]interface{}{
		"question": *question,
	}))
	var answer struct {
		Answer string `json:"answer"`
		Failed bool   `json:"failed"`
	}
	_ = json.Unmarshal(env.Data, &answer)
	if answer.Failed {
		color.Red("Assistant failed to answer")
	} else {
		color.Magenta("Answer: %s", answer.Answer)
	}

	step("5. Status")(sendJSON(http.MethodGet, *baseURL+"/docqa/v1/status", token, nil))
	step("6. History")(sendJSON(http.MethodGet, *baseURL+"/docqa/v1/history", token, nil))
	step("7. Reset")(sendJSON(http.MethodPost, *baseURL+"/docqa/v1/reset", token, nil))

	color.Cyan("\n✅ Smoke test finished for session %s", created.SessionID)
}
