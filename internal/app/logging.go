// internal/app/logging.go

package app

import (
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/petervdpas/tuneroom/internal/config"
)

// SetupLogging applies the log section to the global logrus logger.
func SetupLogging(cfg config.Log, out io.Writer) error {
	lvl, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	if out != nil {
		logrus.SetOutput(out)
	}
	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if lvl >= logrus.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	return nil
}

func logBanner(mode, cfgPath string, fields logrus.Fields) {
	log := logrus.WithField("component", "app")
	log.Info("────────────────────────────────────────")
	log.Infof("tuneroom %s", mode)
	log.Infof(" Config file : %s", cfgPath)
	for k, v := range fields {
		log.Infof(" %-11s : %v", k, v)
	}
	log.Info("────────────────────────────────────────")
}
