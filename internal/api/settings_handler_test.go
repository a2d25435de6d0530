package api_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var wpCols = []string{
	"id", "name", "site_url", "username", "app_password",
	"default_status", "default_author_id", "source_category_mappings",
	"update_if_exists", "include_media", "active", "created_at", "updated_at",
}

func wpRow(id, name string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(wpCols).
		AddRow(id, name, "https://site.example", "editor", "stored-secret",
			"draft", nil, []byte(`{}`), false, true, true, now, now)
}

var systemCols = []string{
	"id", "ai_provider", "ai_api_key", "instagram_scraper_type",
	"instagram_allow_override", "feature_flags", "updated_at",
}

func systemRow(scraperType string, allowOverride bool) *sqlmock.Rows {
	return sqlmock.NewRows(systemCols).
		AddRow(1, "openai", "sk-secret", scraperType, allowOverride, []byte(`{}`), time.Now())
}

func TestListWordPressSettings(t *testing.T) {
	fx := newAPIFixture(t)

	fx.mock.ExpectQuery(`FROM wordpress_settings ORDER BY name ASC`).
		WillReturnRows(wpRow(uuid.NewString(), "Main site"))

	w := doRequest(t, fx, http.MethodGet, "/api/wordpress-settings", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(1), body["count"])
	assert.NotContains(t, w.Body.String(), "stored-secret")
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestCreateWordPressSettingsRequiresAppPassword(t *testing.T) {
	fx := newAPIFixture(t)

	payload := `{"name": "Main site", "site_url": "https://site.example", "username": "editor"}`
	w := doRequest(t, fx, http.MethodPost, "/api/wordpress-settings", strings.NewReader(payload))

	require.Equal(t, http.StatusBadRequest, w.Code)
	details := decodeBody(t, w)["details"].([]any)
	require.Len(t, details, 1)
	assert.Equal(t, "app_password", details[0].(map[string]any)["field"])
}

func TestCreateWordPressSettingsNeverEchoesPassword(t *testing.T) {
	fx := newAPIFixture(t)

	fx.mock.ExpectQuery(`INSERT INTO wordpress_settings`).
		WithArgs(sqlmock.AnyArg(), "Main site", "https://site.example", "editor",
			"abcd efgh ijkl", "draft", nil, []byte(`{}`), false, false, true).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).
			AddRow(time.Now(), time.Now()))

	payload := `{"name": "Main site", "site_url": "https://site.example",
		"username": "editor", "app_password": "abcd efgh ijkl"}`
	w := doRequest(t, fx, http.MethodPost, "/api/wordpress-settings", strings.NewReader(payload))

	require.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "draft", body["default_status"])
	assert.Equal(t, true, body["active"])
	assert.NotContains(t, w.Body.String(), "abcd efgh ijkl")
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestUpdateWordPressSettingsKeepsStoredPassword(t *testing.T) {
	fx := newAPIFixture(t)
	id := uuid.NewString()

	// The empty password travels to SQL, where the CASE expression keeps
	// the stored credential.
	fx.mock.ExpectExec(`UPDATE wordpress_settings`).
		WithArgs("Main site", "https://site.example", "editor", "",
			"publish", nil, []byte(`{}`), true, false, true, id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	fx.mock.ExpectQuery(`FROM wordpress_settings WHERE id`).
		WithArgs(id).
		WillReturnRows(wpRow(id, "Main site"))

	payload := `{"name": "Main site", "site_url": "https://site.example",
		"username": "editor", "default_status": "publish", "update_if_exists": true}`
	w := doRequest(t, fx, http.MethodPut, "/api/wordpress-settings/"+id, strings.NewReader(payload))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, decodeBody(t, w)["id"])
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestDeleteWordPressSettings(t *testing.T) {
	fx := newAPIFixture(t)
	id := uuid.NewString()

	fx.mock.ExpectExec(`DELETE FROM wordpress_settings`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := doRequest(t, fx, http.MethodDelete, "/api/wordpress-settings/"+id, nil)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestGetSystemSettingsHidesKey(t *testing.T) {
	fx := newAPIFixture(t)

	fx.mock.ExpectQuery(`INSERT INTO system_settings`).
		WillReturnRows(systemRow("apify", false))

	w := doRequest(t, fx, http.MethodGet, "/api/system-settings", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "apify", body["instagram_scraper_type"])
	assert.NotContains(t, w.Body.String(), "sk-secret")
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestUpdateSystemSettingsMergesPartialPayload(t *testing.T) {
	fx := newAPIFixture(t)

	fx.mock.ExpectQuery(`INSERT INTO system_settings`).
		WillReturnRows(systemRow("apify", false))
	// Provider survives the merge untouched; the nil key keeps the stored
	// one via COALESCE.
	fx.mock.ExpectExec(`UPDATE system_settings`).
		WithArgs("openai", nil, "private_api", true, []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	fx.mock.ExpectQuery(`INSERT INTO system_settings`).
		WillReturnRows(systemRow("private_api", true))

	payload := `{"instagram_scraper_type": "private_api", "instagram_allow_override": true}`
	w := doRequest(t, fx, http.MethodPut, "/api/system-settings", strings.NewReader(payload))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "private_api", body["instagram_scraper_type"])
	assert.Equal(t, true, body["instagram_allow_override"])
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestUpdateSystemSettingsRejectsUnknownScraperType(t *testing.T) {
	fx := newAPIFixture(t)

	payload := `{"instagram_scraper_type": "botnet"}`
	w := doRequest(t, fx, http.MethodPut, "/api/system-settings", strings.NewReader(payload))

	require.Equal(t, http.StatusBadRequest, w.Code)
	details := decodeBody(t, w)["details"].([]any)
	require.Len(t, details, 1)
	assert.Equal(t, "instagram_scraper_type", details[0].(map[string]any)["field"])
}
