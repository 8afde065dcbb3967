package handlers

import (
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/backend/internal/config"
	"github.com/docuflow/backend/internal/database"
	"github.com/docuflow/backend/internal/models"
)

// newAdminApp wires the admin surface without session auth; the handlers
// under test do not depend on the authenticated user beyond attribution.
func newAdminApp(t *testing.T) (*fiber.App, *config.Config) {
	t.Helper()

	app, cfg := newIntakeApp(t)

	uploadLinkHandler := NewUploadLinkHandler(cfg, fakeBroker{})
	clientHandler := NewClientHandler()

	api := app.Group("/api")
	uploadLinks := api.Group("/upload-links")
	uploadLinks.Get("/", uploadLinkHandler.List)
	uploadLinks.Get("/:id", uploadLinkHandler.Get)
	uploadLinks.Post("/", uploadLinkHandler.Create)
	uploadLinks.Post("/:id/deactivate", uploadLinkHandler.Deactivate)
	api.Get("/uploads/:id/download", uploadLinkHandler.Download)
	api.Get("/clients", clientHandler.List)
	api.Post("/clients", clientHandler.Create)

	return app, cfg
}

func seedClient(t *testing.T) models.Client {
	t.Helper()
	client := models.Client{Name: "Acme Corp", ContactEmail: "ops@acme.test", IsActive: true}
	require.NoError(t, database.DB.Create(&client).Error)
	return client
}

func TestCreateUploadLink(t *testing.T) {
	app, _ := newAdminApp(t)
	client := seedClient(t)

	resp, body := doJSON(t, app, "POST", "/api/upload-links/", "", map[string]interface{}{
		"client_id":    client.ID,
		"expires_at":   time.Now().Add(72 * time.Hour).Format(time.RFC3339),
		"instructions": "Please upload your onboarding documents",
		"requested_documents": []map[string]interface{}{
			{"name": "Passport"},
			{"name": "Utility Bill", "description": "Dated within 3 months"},
		},
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Contains(t, body["url"], "/upload?token=")

	linkData := body["upload_link"].(map[string]interface{})
	linkID := linkData["id"].(string)

	var request models.DocumentRequest
	require.NoError(t, database.DB.Preload("RequestedDocuments").
		Where("upload_link_id = ?", linkID).First(&request).Error)
	assert.Len(t, request.RequestedDocuments, 2)
	assert.Equal(t, models.DocumentRequestStatusIncomplete, request.Status)

	// Named document types were created once each
	var docTypes int64
	database.DB.Model(&models.DocumentType{}).Count(&docTypes)
	assert.EqualValues(t, 2, docTypes)
}

func TestCreateUploadLinkValidation(t *testing.T) {
	app, _ := newAdminApp(t)
	client := seedClient(t)

	future := time.Now().Add(72 * time.Hour).Format(time.RFC3339)

	// Missing client
	resp, _ := doJSON(t, app, "POST", "/api/upload-links/", "", map[string]interface{}{
		"expires_at": future,
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	// Unknown client
	resp, _ = doJSON(t, app, "POST", "/api/upload-links/", "", map[string]interface{}{
		"client_id":  9999,
		"expires_at": future,
	})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	// Expiry in the past
	resp, _ = doJSON(t, app, "POST", "/api/upload-links/", "", map[string]interface{}{
		"client_id":  client.ID,
		"expires_at": time.Now().Add(-1 * time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	// Too many requested documents
	docs := make([]map[string]interface{}, 51)
	for i := range docs {
		docs[i] = map[string]interface{}{"name": fmt.Sprintf("Document %d", i)}
	}
	resp, _ = doJSON(t, app, "POST", "/api/upload-links/", "", map[string]interface{}{
		"client_id":           client.ID,
		"expires_at":          future,
		"requested_documents": docs,
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestCreatedLinkWorksEndToEnd(t *testing.T) {
	app, _ := newAdminApp(t)
	client := seedClient(t)

	resp, body := doJSON(t, app, "POST", "/api/upload-links/", "", map[string]interface{}{
		"client_id":  client.ID,
		"expires_at": time.Now().Add(72 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	// Pull the embedded token out of the returned URL and use it against
	// the public intake surface
	url := body["url"].(string)
	bearer := url[len("http://localhost:8080/upload?token="):]

	resp, _ = doJSON(t, app, "GET", "/api/intake/verify", bearer, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestDeactivateUploadLink(t *testing.T) {
	app, cfg := newAdminApp(t)
	link, bearer := seedLinkWithToken(t, cfg, true, time.Now().Add(24*time.Hour))

	resp, _ := doJSON(t, app, "POST", "/api/upload-links/"+link.ID+"/deactivate", "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var stored models.UploadLink
	require.NoError(t, database.DB.First(&stored, "id = ?", link.ID).Error)
	assert.False(t, stored.IsActive)
	assert.NotNil(t, stored.DeactivatedAt)

	// The link stops working immediately
	resp, _ = doJSON(t, app, "GET", "/api/intake/verify", bearer, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	// Deactivating again is a no-op
	resp, _ = doJSON(t, app, "POST", "/api/upload-links/"+link.ID+"/deactivate", "", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, "POST", "/api/upload-links/"+uuid.New().String()+"/deactivate", "", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestListUploadLinksFiltersAndPagination(t *testing.T) {
	app, cfg := newAdminApp(t)

	seedLinkWithToken(t, cfg, true, time.Now().Add(24*time.Hour))  // active
	seedLinkWithToken(t, cfg, false, time.Now().Add(24*time.Hour)) // inactive
	seedLinkWithToken(t, cfg, true, time.Now().Add(-1*time.Hour))  // expired

	resp, body := doJSON(t, app, "GET", "/api/upload-links/", "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, body["data"].([]interface{}), 3)

	resp, body = doJSON(t, app, "GET", "/api/upload-links/?status=active", "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, body["data"].([]interface{}), 1)

	resp, body = doJSON(t, app, "GET", "/api/upload-links/?status=inactive", "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, body["data"].([]interface{}), 1)

	resp, body = doJSON(t, app, "GET", "/api/upload-links/?status=expired", "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, body["data"].([]interface{}), 1)

	// Page of 2: a cursor comes back, and following it yields the rest
	resp, body = doJSON(t, app, "GET", "/api/upload-links/?limit=2", "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Len(t, body["data"].([]interface{}), 2)
	cursor := body["meta"].(map[string]interface{})["next_cursor"].(string)
	require.NotEmpty(t, cursor)

	resp, body = doJSON(t, app, "GET", "/api/upload-links/?limit=2&cursor="+url.QueryEscape(cursor), "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, body["data"].([]interface{}), 1)
	assert.Empty(t, body["meta"].(map[string]interface{})["next_cursor"])
}

func TestListPaginationWithSharedTimestamps(t *testing.T) {
	app, cfg := newAdminApp(t)

	// Three links created in the same instant; the cursor must tiebreak on
	// id or rows sharing the boundary timestamp get skipped across pages
	createdAt := time.Now().Add(-time.Hour).Truncate(time.Second)
	for i := 0; i < 3; i++ {
		link, _ := seedLinkWithToken(t, cfg, true, time.Now().Add(24*time.Hour))
		require.NoError(t, database.DB.Model(&models.UploadLink{}).
			Where("id = ?", link.ID).Update("created_at", createdAt).Error)
	}

	seen := make(map[string]bool)
	cursor := ""
	for page := 0; page < 5; page++ {
		path := "/api/upload-links/?limit=1"
		if cursor != "" {
			path += "&cursor=" + url.QueryEscape(cursor)
		}
		resp, body := doJSON(t, app, "GET", path, "", nil)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		for _, row := range body["data"].([]interface{}) {
			id := row.(map[string]interface{})["id"].(string)
			assert.False(t, seen[id], "link %s served on two pages", id)
			seen[id] = true
		}
		cursor, _ = body["meta"].(map[string]interface{})["next_cursor"].(string)
		if cursor == "" {
			break
		}
	}
	assert.Len(t, seen, 3)
}

func TestAdminEndpointsFailFastDuringOutage(t *testing.T) {
	app, cfg := newAdminApp(t)
	link, _ := seedLinkWithToken(t, cfg, true, time.Now().Add(24*time.Hour))

	upload := models.Upload{
		ID:           uuid.New().String(),
		UploadLinkID: link.ID,
		FileName:     "passport.pdf",
		FileSize:     1024,
		MimeType:     "application/pdf",
		S3Key:        "uploads/1/" + link.ID + "/123-passport.pdf",
		S3Bucket:     "test-bucket",
	}
	require.NoError(t, database.DB.Create(&upload).Error)

	// A connection-level failure opens the breaker for the cooldown window
	require.Error(t, database.Execute(func() error {
		return errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
	}))
	require.True(t, database.BreakerOpen())
	t.Cleanup(database.ResetBreaker)

	resp, _ := doJSON(t, app, "GET", "/api/uploads/"+upload.ID+"/download", "", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = doJSON(t, app, "POST", "/api/upload-links/"+link.ID+"/deactivate", "", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	// No download was recorded while the circuit was open
	var stored models.Upload
	require.NoError(t, database.DB.First(&stored, "id = ?", upload.ID).Error)
	assert.Zero(t, stored.DownloadCount)

	// Once the breaker closes, the same call goes through
	database.ResetBreaker()
	resp, _ = doJSON(t, app, "GET", "/api/uploads/"+upload.ID+"/download", "", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestDownloadIncrementsCounter(t *testing.T) {
	app, cfg := newAdminApp(t)
	link, _ := seedLinkWithToken(t, cfg, true, time.Now().Add(24*time.Hour))

	upload := models.Upload{
		ID:           uuid.New().String(),
		UploadLinkID: link.ID,
		FileName:     "passport.pdf",
		FileSize:     1024,
		MimeType:     "application/pdf",
		S3Key:        "uploads/1/" + link.ID + "/123-passport.pdf",
		S3Bucket:     "test-bucket",
	}
	require.NoError(t, database.DB.Create(&upload).Error)

	resp, body := doJSON(t, app, "GET", "/api/uploads/"+upload.ID+"/download", "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body["url"], "signed-get")

	var stored models.Upload
	require.NoError(t, database.DB.First(&stored, "id = ?", upload.ID).Error)
	assert.EqualValues(t, 1, stored.DownloadCount)

	resp, _ = doJSON(t, app, "GET", "/api/uploads/"+uuid.New().String()+"/download", "", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestClientCreateAndList(t *testing.T) {
	app, _ := newAdminApp(t)

	resp, body := doJSON(t, app, "POST", "/api/clients", "", map[string]interface{}{
		"name":          "Globex LLC",
		"contact_email": "legal@globex.test",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, _ = doJSON(t, app, "POST", "/api/clients", "", map[string]interface{}{
		"contact_email": "missing-name@globex.test",
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, app, "GET", "/api/clients?search=globex", "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, body["data"].([]interface{}), 1)
}
