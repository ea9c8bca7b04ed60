package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"tunnel-chat/services"
	"tunnel-chat/utils"
)

const maxUploadSize = 50 << 20 // 50 MB

type FileHandler struct {
	files *services.FileService
}

func NewFileHandler(files *services.FileService) *FileHandler {
	return &FileHandler{files: files}
}

func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		respondWithError(w, "Invalid upload", "File too large or malformed form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondWithError(w, "Invalid upload", "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondWithError(w, "Internal error", "Failed to read file", http.StatusInternalServerError)
		return
	}

	roomID := r.FormValue("roomId")
	encrypt := r.FormValue("encrypt") == "true"

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	meta, err := h.files.Upload(data, header.Filename, mimeType, requestUser(r), roomID, encrypt)
	if err != nil {
		if errors.Is(err, services.ErrNotAMember) {
			respondWithError(w, "Forbidden", "You are not a member of this room", http.StatusForbidden)
			return
		}
		respondWithError(w, "Upload failed", err.Error(), http.StatusBadRequest)
		return
	}

	respondWithSuccess(w, map[string]interface{}{"file": meta})
}

// Download always serves plaintext. Encrypted files are unsealed on the
// way out, so the wire format is the caller's original bytes either way.
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["fileId"]

	data, meta, err := h.files.Download(fileID, requestUser(r))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrFileNotFound):
			respondWithError(w, "Not found", "File not found", http.StatusNotFound)
		case errors.Is(err, services.ErrFileForbidden):
			respondWithError(w, "Forbidden", "You don't have access to this file", http.StatusForbidden)
		case errors.Is(err, utils.ErrDecryptionFailed):
			respondWithError(w, "Decryption failed", "File could not be decrypted", http.StatusInternalServerError)
		default:
			respondWithError(w, "Internal error", err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+meta.OriginalName+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["fileId"]

	if err := h.files.Delete(fileID, requestUser(r)); err != nil {
		switch {
		case errors.Is(err, services.ErrFileNotFound):
			respondWithError(w, "Not found", "File not found", http.StatusNotFound)
		default:
			respondWithError(w, "Forbidden", err.Error(), http.StatusForbidden)
		}
		return
	}

	respondWithSuccess(w, map[string]interface{}{"deleted": fileID})
}
