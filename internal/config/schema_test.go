package config

import (
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalDoc = `<?xml version="1.0"?>
<server-config xmlns="http://couling.me/webdavd">
  <server>
    <listen><port>8080</port><host>0.0.0.0</host><encryption>none</encryption></listen>
  </server>
</server-config>`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(minimalDoc), nil)
	require.NoError(t, err)

	assert.Equal(t, "/etc/mime.types", cfg.Server.MimeFile)
	assert.Equal(t, "/usr/sbin/rap", cfg.Server.RapBinary)
	assert.Equal(t, "webdav", cfg.Server.PamService)
	assert.Equal(t, "/var/log/webdavd-access.log", cfg.Server.AccessLog)
	assert.Equal(t, "/var/log/webdavd-error.log", cfg.Server.ErrorLog)
	assert.Equal(t, 5*time.Minute, cfg.Server.SessionTimeout)
	assert.Equal(t, 10, cfg.Server.MaxUserSessions)
	require.Len(t, cfg.Server.Listen, 1)
	assert.Equal(t, 8080, cfg.Server.Listen[0].Port)
}

func TestParseOverridesDefaults(t *testing.T) {
	doc := `<server-config xmlns="http://couling.me/webdavd">
  <server>
    <session-timeout>01:02:03</session-timeout>
    <max-user-sessions>5</max-user-sessions>
    <mime-file>/opt/mime.types</mime-file>
  </server>
</server-config>`
	cfg, err := Parse(strings.NewReader(doc), nil)
	require.NoError(t, err)
	assert.Equal(t, time.Hour+2*time.Minute+3*time.Second, cfg.Server.SessionTimeout)
	assert.Equal(t, 5, cfg.Server.MaxUserSessions)
	assert.Equal(t, "/opt/mime.types", cfg.Server.MimeFile)
}

func TestParseOnlyFirstServerBlockApplied(t *testing.T) {
	doc := `<server-config xmlns="http://couling.me/webdavd">
  <server><mime-file>/first.types</mime-file></server>
  <server><mime-file>/second.types</mime-file></server>
</server-config>`
	cfg, err := Parse(strings.NewReader(doc), logrus.StandardLogger())
	require.NoError(t, err)
	assert.Equal(t, "/first.types", cfg.Server.MimeFile)
}

func TestParseTimeoutForms(t *testing.T) {
	d, err := parseTimeout("30")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	d, err = parseTimeout("02:30")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute+30*time.Second, d)

	d, err = parseTimeout("01:02:03")
	require.NoError(t, err)
	assert.Equal(t, time.Hour+2*time.Minute+3*time.Second, d)
}

func TestParseRejectsDocumentWithNoServerBlock(t *testing.T) {
	_, err := Parse(strings.NewReader(`<server-config xmlns="http://couling.me/webdavd"></server-config>`), nil)
	assert.Error(t, err)
}
