package debug

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const displayWidth = 16

// Enabled returns whether or not the server was set to debug mode.
func Enabled() bool {
	return viper.GetBool("debugging.enabled")
}

// FrameLoggingEnabled returns whether or not every command exchanged with
// the gamemode client should be logged.
func FrameLoggingEnabled() bool {
	return viper.GetBool("debugging.frame_logging_enabled")
}

// StartUtilities spins off the services associated with debug mode: an HTTP
// listener serving the default pprof handlers along with the Prometheus
// metrics registered by the bridge. It can only be accessed via localhost.
// See https://golang.org/pkg/net/http/pprof/
func StartUtilities(logger *logrus.Logger, port int) {
	listenerAddr := fmt.Sprintf("localhost:%d", port)
	logger.Infof("starting debug server on %s", listenerAddr)

	http.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(listenerAddr, nil); err != nil {
			logger.Infof("error starting debug server: %s", err)
		}
	}()
}

// DumpFrame renders the contents of a command payload in two columns, one
// for bytes and the other for their ascii representation.
func DumpFrame(data []uint8) string {
	var dump strings.Builder
	pktLen := len(data)

	for rem, offset := pktLen, 0; rem > 0; rem -= displayWidth {
		if rem < displayWidth {
			buildFrameLine(&dump, data[(pktLen-rem):pktLen], rem, offset)
		} else {
			buildFrameLine(&dump, data[offset:offset+displayWidth], displayWidth, offset)
		}
		offset += displayWidth
	}
	return dump.String()
}

func buildFrameLine(dump *strings.Builder, data []uint8, length int, offset int) {
	fmt.Fprintf(dump, "(%04X) ", offset)

	for i, j := 0, 0; i < length; i++ {
		if j == 8 {
			// Visual aid - spacing between groups of 8 bytes.
			j = 0
			dump.WriteString("  ")
		}
		fmt.Fprintf(dump, "%02x ", data[i])
		j++
	}
	// Fill in the gap if we don't have enough bytes to fill the line.
	for i := length; i < displayWidth; i++ {
		if i == 8 {
			dump.WriteString("  ")
		}
		dump.WriteString("   ")
	}
	dump.WriteString("    ")
	// Display the print characters as-is, others as periods.
	for i := 0; i < length; i++ {
		c := data[i]
		if strconv.IsPrint(rune(c)) {
			fmt.Fprintf(dump, "%c", data[i])
		} else {
			dump.WriteString(".")
		}
	}
	dump.WriteString("\n")
}
