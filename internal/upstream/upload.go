package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/hitalin/notedeck/internal/errs"
	"github.com/hitalin/notedeck/internal/models"
)

// UploadFile posts a drive file via multipart/form-data, parts "i",
// "isSensitive", and "file".
func (c *Client) UploadFile(ctx context.Context, host, token, fileName string, fileData []byte, contentType string, isSensitive bool) (models.NormalizedDriveFile, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("i", token); err != nil {
		return models.NormalizedDriveFile{}, errs.Network(err)
	}
	if err := w.WriteField("isSensitive", strconv.FormatBool(isSensitive)); err != nil {
		return models.NormalizedDriveFile{}, errs.Network(err)
	}

	partHeader := make(map[string][]string)
	partHeader["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName)}
	if contentType != "" {
		partHeader["Content-Type"] = []string{contentType}
	}
	part, err := w.CreatePart(partHeader)
	if err != nil {
		return models.NormalizedDriveFile{}, errs.Network(err)
	}
	if _, err := part.Write(fileData); err != nil {
		return models.NormalizedDriveFile{}, errs.Network(err)
	}
	if err := w.Close(); err != nil {
		return models.NormalizedDriveFile{}, errs.Network(err)
	}

	url := fmt.Sprintf("https://%s/api/drive/files/create", host)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return models.NormalizedDriveFile{}, errs.Network(err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return models.NormalizedDriveFile{}, errs.Network(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.NormalizedDriveFile{}, c.apiError(resp, "drive/files/create")
	}

	data, err := readBodyLimited(resp, "drive/files/create")
	if err != nil {
		return models.NormalizedDriveFile{}, err
	}

	var file rawDriveFile
	if err := json.Unmarshal(data, &file); err != nil {
		return models.NormalizedDriveFile{}, errs.JSON(err)
	}
	return file.normalize(), nil
}
