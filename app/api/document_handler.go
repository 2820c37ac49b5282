package api

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"docintel/index"
	"docintel/ingest"
	"docintel/store"
	"docintel/types"
)

// ownerID resolves the caller's identity. Authentication lives in the outer
// layer; this core only scopes data by the forwarded user id.
func ownerID(c *fiber.Ctx) int64 {
	if raw := c.Get("X-User-ID"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
			return id
		}
	}
	return 1
}

type DocumentHandler struct {
	store    store.DBStorer
	index    *index.Index
	pipeline *ingest.Pipeline
	logger   *slog.Logger
}

func NewDocumentHandler(st store.DBStorer, idx *index.Index, pipeline *ingest.Pipeline) *DocumentHandler {
	return &DocumentHandler{
		store:    st,
		index:    idx,
		pipeline: pipeline,
		logger:   slog.Default(),
	}
}

// HandleUpload accepts a multipart file, records the document and kicks off
// asynchronous ingestion. The response carries status=processing; clients
// poll /documents/:id/status for the outcome.
func (h *DocumentHandler) HandleUpload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return ErrBadRequest()
	}

	doc, err := h.store.CreateDocument(c.Context(), ownerID(c), fileHeader.Filename)
	if err != nil {
		return err
	}

	path := h.pipeline.UploadPath(doc.ID, doc.Filename)
	if err := c.SaveFile(fileHeader, path); err != nil {
		h.logger.Error("save upload failed", "document_id", doc.ID, "error", err)
		if stErr := h.store.UpdateStatus(c.Context(), doc.ID, types.StatusFailed, "upload: save failed"); stErr != nil {
			h.logger.Error("mark upload failed", "document_id", doc.ID, "error", stErr)
		}
		return err
	}

	if err := h.pipeline.Enqueue(doc.ID, doc.Filename, path); err != nil {
		return err
	}

	h.logger.Info("document uploaded", "document_id", doc.ID, "filename", doc.Filename, "owner_id", doc.OwnerID)
	return c.Status(fiber.StatusCreated).JSON(doc)
}

func (h *DocumentHandler) HandleList(c *fiber.Ctx) error {
	docs, err := h.store.ListDocumentsByOwner(c.Context(), ownerID(c))
	if err != nil {
		return err
	}
	return c.JSON(docs)
}

func (h *DocumentHandler) HandleStatus(c *fiber.Ctx) error {
	doc, err := h.ownedDocument(c)
	if err != nil {
		return err
	}
	return c.JSON(types.DocumentStatusResponse{
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		Status:     doc.Status,
	})
}

// HandleDelete removes a document with all its chunks and vectors. In-flight
// ingestion for the document is cancelled first so a late stage completion
// cannot resurrect it.
func (h *DocumentHandler) HandleDelete(c *fiber.Ctx) error {
	doc, err := h.ownedDocument(c)
	if err != nil {
		return err
	}

	h.pipeline.Cancel(doc.ID)
	if err := h.store.DeleteDocument(c.Context(), doc.ID); err != nil {
		return err
	}
	h.index.RemoveDocument(doc.ID)
	h.pipeline.RemoveUpload(doc.ID, doc.Filename)

	h.logger.Info("document deleted", "document_id", doc.ID, "owner_id", doc.OwnerID)
	return c.SendStatus(fiber.StatusNoContent)
}

// ownedDocument loads the path document and hides other owners' documents
// behind a 404.
func (h *DocumentHandler) ownedDocument(c *fiber.Ctx) (*types.Document, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return nil, ErrInvalidID()
	}

	doc, err := h.store.GetDocument(c.Context(), int64(id))
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != ownerID(c) {
		return nil, NewError(fiber.StatusNotFound, "not found")
	}
	return doc, nil
}
