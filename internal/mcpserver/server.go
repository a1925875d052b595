// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the note session as tools over stdio.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/notebox/internal/apperr"
	"github.com/starford/notebox/internal/models"
	"github.com/starford/notebox/internal/session"
)

const warningPrefix = "warning: "

// Server wraps the MCP server with the notebox tools.
type Server struct {
	mcp   *server.MCPServer
	ctrl  *session.Controller
	fetch fetchFunc
}

// New creates a new MCP server with all tools registered.
func New(ctrl *session.Controller) *Server {
	s := &Server{ctrl: ctrl, fetch: fetchHTTP}

	s.mcp = server.NewMCPServer(
		"notebox",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List the notes of the session with their resolved image URLs."),
		mcp.WithBoolean("refresh", mcp.Description("Reload notes from the backend first")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a note. The optional image is uploaded before the note is stored."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Note name, also the image key")),
		mcp.WithString("description", mcp.Required(), mcp.Description("Note description")),
		mcp.WithString("image_url", mcp.Description("Optional image as an http(s) URL or a base64 data: URI")),
		mcp.WithString("filename", mcp.Description("Optional file name stored with the note")),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete a note and its image."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithString("name", mcp.Description("Note name; defaults to the session's copy")),
	), s.deleteNote)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// withWarning appends err as a second text item so a partly failed call
// still returns its data.
func withWarning(res *mcp.CallToolResult, err error) (*mcp.CallToolResult, error) {
	if err != nil && !res.IsError {
		res.Content = append(res.Content, mcp.NewTextContent(warningPrefix+err.Error()))
	}
	return res, nil
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !req.GetBool("refresh", false) {
		return jsonResult(s.ctrl.Notes())
	}
	notes, err := s.ctrl.Refresh(ctx)
	if err != nil && !errors.Is(err, apperr.ErrHydration) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, _ := jsonResult(notes)
	return withWarning(res, err)
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	description, err := req.RequireString("description")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	form := &session.CreateForm{Name: name, Description: description}

	if rawURL := req.GetString("image_url", ""); rawURL != "" {
		img, err := s.loadImage(ctx, rawURL, req.GetString("filename", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		form.Image = &models.ImageFile{
			Filename:    img.filename,
			ContentType: img.contentType,
			Body:        bytes.NewReader(img.data),
		}
	}

	note, err := s.ctrl.Create(ctx, form)
	if err != nil && note.ID == "" {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, _ := jsonResult(note)
	return withWarning(res, err)
}

func (s *Server) deleteNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.ctrl.Delete(ctx, id, req.GetString("name", "")); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", id)), nil
}
