package api

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"whosprinting-backend/internal/model"
	"whosprinting-backend/internal/occupancy"
	"whosprinting-backend/internal/parse"
	"whosprinting-backend/internal/store"
	"whosprinting-backend/internal/tag"
)

// Plugin commands accepted by PostCommand.
const (
	cmdPrintStarted  = "PrintStarted"
	cmdPrintFinished = "PrintFinished"
	cmdPrintFailed   = "PrintFailed"
	cmdFakeTag       = "FakeTag"
	cmdTagScanned    = "TagScanned"
	cmdRegisterUser  = "RegisterUser"
	cmdUpdateUser    = "UpdateUser"
)

type operatorResponse struct {
	Username       string `json:"username"`
	DisplayName    string `json:"displayName"`
	EmailAddress   string `json:"emailAddress,omitempty"`
	PhoneNumber    string `json:"phoneNumber,omitempty"`
	TwitterHandle  string `json:"twitterHandle,omitempty"`
	MastodonHandle string `json:"mastodonHandle,omitempty"`
	PrintInPrivate bool   `json:"printInPrivate"`
}

// toOperatorResponse hides the display name and contact details of operators
// who print in private. The username stays so they can still be selected.
func toOperatorResponse(op model.Operator) operatorResponse {
	resp := operatorResponse{
		Username:       op.Username,
		DisplayName:    op.Username,
		PrintInPrivate: op.PrintInPrivate,
	}
	if !op.PrintInPrivate {
		resp.DisplayName = op.Label()
		resp.EmailAddress = op.EmailAddress
		resp.PhoneNumber = op.PhoneNumber
		resp.TwitterHandle = op.TwitterHandle
		resp.MastodonHandle = op.MastodonHandle
	}
	return resp
}

// historyResponse leaves Username and DisplayName empty for private operators.
type historyResponse struct {
	Username       string `json:"username"`
	DisplayName    string `json:"displayName"`
	PrintInPrivate bool   `json:"printInPrivate"`
	Outcome        string `json:"outcome"`
	PeriodStart    string `json:"periodStart"`
	PeriodEnd      string `json:"periodEnd"`
}

// GetCommand serves the read-only plugin commands selected by ?command=.
func (h *Handler) GetCommand(c *gin.Context) {
	ctx := c.Request.Context()

	switch c.Query("command") {
	case "list":
		ops, err := h.store.ListOperators(ctx)
		if err != nil {
			log.Printf("Error listing operators: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list operators"})
			return
		}
		users := make([]operatorResponse, 0, len(ops))
		for _, op := range ops {
			users = append(users, toOperatorResponse(op))
		}
		c.JSON(http.StatusOK, gin.H{"users": users})

	case "get_whos_printing":
		holder, err := h.occupancy.Current(ctx)
		if err != nil {
			log.Printf("Error fetching current holder: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch holder"})
			return
		}
		if holder == nil {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": toOperatorResponse(*holder)})

	case "history":
		records, err := h.occupancy.History(ctx, h.cfg.Client.HistoryLimit)
		if err != nil {
			log.Printf("Error fetching history: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch history"})
			return
		}
		history := make([]historyResponse, 0, len(records))
		for _, r := range records {
			entry := historyResponse{
				PrintInPrivate: r.Operator.PrintInPrivate,
				Outcome:        string(r.Outcome),
				PeriodStart:    r.PeriodStart.UTC().Format(time.RFC3339),
				PeriodEnd:      r.PeriodEnd.UTC().Format(time.RFC3339),
			}
			if !entry.PrintInPrivate {
				entry.Username = r.Operator.Username
				entry.DisplayName = r.Operator.Label()
			}
			history = append(history, entry)
		}
		c.JSON(http.StatusOK, gin.H{"history": history})

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown command"})
	}
}

type commandRequest struct {
	Command        string `json:"command" binding:"required"`
	WhosPrinting   string `json:"whosPrinting"`
	TagID          string `json:"tagId"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	KeyfobID       string `json:"keyfobId"`
	DisplayName    string `json:"displayName"`
	EmailAddress   string `json:"emailAddress"`
	PhoneNumber    string `json:"phoneNumber"`
	TwitterHandle  string `json:"twitterHandle"`
	MastodonHandle string `json:"mastodonHandle"`
	PrintInPrivate bool   `json:"printInPrivate"`
}

// PostCommand dispatches the state-changing plugin commands.
func (h *Handler) PostCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	switch req.Command {
	case cmdPrintStarted:
		username := strings.TrimSpace(req.WhosPrinting)
		if username == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "whosPrinting is required"})
			return
		}
		if err := h.occupancy.Start(ctx, username); err != nil {
			if errors.Is(err, occupancy.ErrUnknownOperator) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			log.Printf("Error starting occupancy for %s: %v", username, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start"})
			return
		}
		c.Status(http.StatusNoContent)

	case cmdPrintFinished, cmdPrintFailed:
		outcome := model.OutcomeFinished
		if req.Command == cmdPrintFailed {
			outcome = model.OutcomeFailed
		}
		if err := h.occupancy.Finish(ctx, outcome); err != nil {
			log.Printf("Error ending occupancy: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to end occupancy"})
			return
		}
		c.Status(http.StatusNoContent)

	case cmdFakeTag:
		id, err := h.tags.FakeScan(ctx)
		if err != nil {
			log.Printf("Error faking tag scan: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fake tag"})
			return
		}
		log.Printf("Faked tag %s", id)
		c.Status(http.StatusNoContent)

	case cmdTagScanned:
		if _, err := h.tags.Scan(ctx, req.TagID); err != nil {
			if errors.Is(err, tag.ErrInvalidTag) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			log.Printf("Error handling tag scan: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to handle scan"})
			return
		}
		c.Status(http.StatusNoContent)

	case cmdRegisterUser:
		h.registerUser(c, req)

	case cmdUpdateUser:
		h.updateUser(c, req)

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown command"})
	}
}

// keyfob normalizes an optional tag id. Empty input means no tag.
func (h *Handler) keyfob(raw string) (*string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	id, err := parse.TagID(raw, h.cfg.Tag.MinLength)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (h *Handler) registerUser(c *gin.Context, req commandRequest) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}
	keyfobID, err := h.keyfob(req.KeyfobID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("Error hashing password for %s: %v", username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register"})
		return
	}

	op := &model.Operator{
		Username:       username,
		PasswordHash:   string(hash),
		DisplayName:    strings.TrimSpace(req.DisplayName),
		EmailAddress:   req.EmailAddress,
		PhoneNumber:    req.PhoneNumber,
		TwitterHandle:  req.TwitterHandle,
		MastodonHandle: req.MastodonHandle,
		KeyfobID:       keyfobID,
		PrintInPrivate: req.PrintInPrivate,
	}
	if err := h.store.CreateOperator(c.Request.Context(), op); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		log.Printf("Error creating operator %s: %v", username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register"})
		return
	}

	log.Printf("Registered operator %s", username)
	h.cache.Flush()
	c.JSON(http.StatusCreated, gin.H{"user": toOperatorResponse(*op)})
}

func (h *Handler) updateUser(c *gin.Context, req commandRequest) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}
	keyfobID, err := h.keyfob(req.KeyfobID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err = h.store.UpdateOperator(c.Request.Context(), username, store.OperatorProfile{
		DisplayName:    strings.TrimSpace(req.DisplayName),
		EmailAddress:   req.EmailAddress,
		PhoneNumber:    req.PhoneNumber,
		TwitterHandle:  req.TwitterHandle,
		MastodonHandle: req.MastodonHandle,
		KeyfobID:       keyfobID,
		PrintInPrivate: req.PrintInPrivate,
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "operator not found"})
		return
	case errors.Is(err, store.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		log.Printf("Error updating operator %s: %v", username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update"})
		return
	}

	h.cache.Flush()
	c.Status(http.StatusNoContent)
}
