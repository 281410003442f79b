package daemon

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestGinLoggerLevels(t *testing.T) {
	gin.SetMode(gin.TestMode)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.TraceLevel)

	r := gin.New()
	r.Use(ginLogger(logger))
	r.GET("/state", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/sleep", func(c *gin.Context) { c.Status(http.StatusAccepted) })
	r.PUT("/usb", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.POST("/wake", func(c *gin.Context) {
		_ = c.AbortWithError(http.StatusServiceUnavailable, errors.New("display busy"))
	})

	tests := []struct {
		method string
		path   string
		want   logrus.Level
	}{
		{http.MethodGet, "/state", logrus.TraceLevel},
		{http.MethodPost, "/sleep", logrus.DebugLevel},
		{http.MethodPut, "/usb", logrus.WarnLevel},
		{http.MethodPost, "/wake", logrus.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			hook.Reset()
			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))
			e := hook.LastEntry()
			if e == nil {
				t.Fatal("no log entry")
			}
			if e.Level != tt.want {
				t.Errorf("level = %v, want %v", e.Level, tt.want)
			}
			if e.Data["path"] != tt.path {
				t.Errorf("path field = %v, want %s", e.Data["path"], tt.path)
			}
		})
	}
}
