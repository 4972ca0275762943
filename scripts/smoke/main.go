// Command smoke posts one webhook in each supported encoding to a running
// service and prints what the pull endpoint returns for them.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"form-webhook-sync/internal/worker"

	"github.com/joho/godotenv"
)

const (
	maxRetries    = 3
	retryInterval = 2 * time.Second
)

type sample struct {
	name        string
	contentType string
	body        []byte
}

func main() {
	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	baseURL := os.Getenv("SYNC_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	log.Printf("Target: %s", baseURL)

	samples, err := buildSamples(os.Getenv("SMOKE_FILE_URL"))
	if err != nil {
		log.Fatalf("Failed to build samples: %v", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	for _, s := range samples {
		status, body, err := postWithRetry(client, baseURL+"/webhook", s)
		if err != nil {
			log.Printf("%s: request failed: %v", s.name, err)
			continue
		}
		log.Printf("%s: %d %s", s.name, status, strings.TrimSpace(string(body)))
	}

	records, err := worker.NewSyncClient(baseURL, 30*time.Second).GetUnprocessed(context.Background(), 10)
	if err != nil {
		log.Fatalf("Failed to pull unprocessed submissions: %v", err)
	}
	out, _ := json.MarshalIndent(records, "", "  ")
	fmt.Println(string(out))
}

func buildSamples(fileURL string) ([]sample, error) {
	jsonBody, err := json.Marshal(map[string]string{"form_id": "smoke", "entry_id": "1", "name": "Smoke Test"})
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("form-id", "smoke")
	form.Set("entry-id", "2")
	if fileURL != "" {
		form.Set("file_url", fileURL)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("form_id", "smoke"); err != nil {
		return nil, err
	}
	part, err := mw.CreateFormFile("upload", "smoke.txt")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write([]byte("smoke test attachment\n")); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	return []sample{
		{name: "json", contentType: "application/json", body: jsonBody},
		{name: "form", contentType: "application/x-www-form-urlencoded", body: []byte(form.Encode())},
		{name: "multipart", contentType: mw.FormDataContentType(), body: buf.Bytes()},
		{name: "raw", contentType: "text/plain", body: []byte("form_id=smoke&entry_id=4")},
	}, nil
}

func postWithRetry(client *http.Client, target string, s sample) (int, []byte, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(s.body))
		if err != nil {
			return 0, nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", s.contentType)
		req.Header.Set("User-Agent", "form-webhook-sync-smoke")

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			log.Printf("%s: attempt %d failed: %v", s.name, attempt, err)
			time.Sleep(retryInterval)
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
		}
		return resp.StatusCode, body, nil
	}
	return 0, nil, fmt.Errorf("giving up after %d attempts: %w", maxRetries, lastErr)
}
