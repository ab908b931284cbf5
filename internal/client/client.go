// Package client talks to the njktraining REST API on behalf of the player.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/claude/njktraining/internal/models"
)

// ErrNotLoggedIn is returned by authenticated calls when no token is set.
var ErrNotLoggedIn = errors.New("not logged in")

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("server returned %d", e.Status)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// Client sends requests to the njktraining server over HTTP.
type Client struct {
	serverURL  string
	token      string
	httpClient *http.Client
}

// New creates a client for serverURL. token may be empty until Login.
func New(serverURL, token string) *Client {
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		token:     token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Token returns the bearer token in use.
func (c *Client) Token() string { return c.token }

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) { c.token = token }

func (c *Client) do(ctx context.Context, method, path string, auth bool, body, out any) error {
	if auth && c.token == "" {
		return ErrNotLoggedIn
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
	}
	return nil
}

// LoginResult is the token and user returned by /auth/login.
type LoginResult struct {
	Token string          `json:"token"`
	User  models.AuthUser `json:"user"`
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var res LoginResult
	err := c.do(ctx, http.MethodPost, "/auth/login", false,
		map[string]string{"email": email, "password": password}, &res)
	if err != nil {
		return nil, err
	}
	c.token = res.Token
	return &res, nil
}

// Logout tells the server to drop the token from its cache and forgets it locally.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/auth/logout", true, nil, nil)
	c.token = ""
	return err
}

// TrainingUser is the identity part of TrainingData.
type TrainingUser struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	MentorID string `json:"mentor_id"`
}

// TrainingData is the player's bootstrap: identity and the program to run.
// Source is "user" or "default".
type TrainingData struct {
	User      TrainingUser    `json:"user"`
	Exercises *models.Catalog `json:"exercises"`
	Source    string          `json:"source"`
}

// TrainingData fetches /api/training/exercises.
func (c *Client) TrainingData(ctx context.Context) (*TrainingData, error) {
	var td TrainingData
	if err := c.do(ctx, http.MethodGet, "/api/training/exercises", true, nil, &td); err != nil {
		return nil, err
	}
	return &td, nil
}

// Target names whose program a write goes to. The zero value is the caller.
type Target struct {
	StudentID int64
}

// Self targets the caller's own program.
var Self = Target{}

// Student targets a student's program; the server checks the mentor relationship.
func Student(id int64) Target { return Target{StudentID: id} }

func (t Target) path() string {
	if t.StudentID == 0 {
		return "/api/user/exercises"
	}
	return "/api/mentor/student-exercises/" + strconv.FormatInt(t.StudentID, 10)
}

func (t Target) String() string {
	if t.StudentID == 0 {
		return "self"
	}
	return "student " + strconv.FormatInt(t.StudentID, 10)
}

// LoadProgram reads the target's stored program; nil when they have none.
func (c *Client) LoadProgram(ctx context.Context, t Target) (*models.Catalog, error) {
	var res struct {
		Exercises *models.Catalog `json:"exercises"`
	}
	if err := c.do(ctx, http.MethodGet, t.path(), true, nil, &res); err != nil {
		return nil, err
	}
	return res.Exercises, nil
}

// SaveProgram replaces the target's program.
func (c *Client) SaveProgram(ctx context.Context, t Target, program *models.Catalog) error {
	if program == nil {
		return errors.New("nil program")
	}
	return c.do(ctx, http.MethodPut, t.path(), true, map[string]any{"exercises": program}, nil)
}

// ResetProgram clears the caller's program so the default catalog applies.
func (c *Client) ResetProgram(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/user/exercises", true, nil, nil)
}

// Students lists the caller's students.
func (c *Client) Students(ctx context.Context) ([]models.Student, error) {
	var res struct {
		Students []models.Student `json:"students"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/mentor/students", true, nil, &res); err != nil {
		return nil, err
	}
	return res.Students, nil
}

// AddStudent links the user with the given code as the caller's student.
func (c *Client) AddStudent(ctx context.Context, code string) error {
	return c.do(ctx, http.MethodPost, "/api/mentor/add-student-by-code", true,
		map[string]string{"student_code": code}, nil)
}

// AddHistory records a finished session and returns its ID.
func (c *Client) AddHistory(ctx context.Context, e models.HistoryEntry) (int64, error) {
	body := map[string]any{
		"program_name":    e.ProgramName,
		"level":           e.Level,
		"elapsed_seconds": e.ElapsedSeconds,
		"completed_units": e.CompletedUnits,
	}
	if len(e.Details) > 0 {
		body["details"] = e.Details
	}
	var res struct {
		ID int64 `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/training/history", true, body, &res); err != nil {
		return 0, err
	}
	return res.ID, nil
}
