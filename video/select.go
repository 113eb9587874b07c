package video

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"agentstudio.dev/deskrec/internal/processutil"
)

const encoderProbeTimeout = 5 * time.Second

type encoderPlan struct {
	label       string
	codec       string
	hardware    bool
	globalArgs  []string
	pixelFilter string
	codecArgs   []string
}

var softwarePlans = map[string]encoderPlan{
	"libx264": {
		label:       "libx264",
		codec:       "libx264",
		pixelFilter: "format=yuv420p",
		codecArgs:   []string{"-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p"},
	},
	"libopenh264": {
		label:       "libopenh264",
		codec:       "libopenh264",
		pixelFilter: "format=yuv420p",
		codecArgs:   []string{"-c:v", "libopenh264", "-pix_fmt", "yuv420p"},
	},
	"mpeg4": {
		label:       "mpeg4",
		codec:       "mpeg4",
		pixelFilter: "format=yuv420p",
		codecArgs:   []string{"-c:v", "mpeg4", "-q:v", "3", "-pix_fmt", "yuv420p"},
	},
}

func selectEncoder(opts Options) encoderPlan {
	fallback := softwarePlans["mpeg4"]
	log := opts.Logger

	if _, err := exec.LookPath(opts.FFmpegPath); err != nil {
		log.Debug("encoder probe skipped", "reason", "ffmpeg_not_found", "path", opts.FFmpegPath, "err", err)
		return softwarePlans[opts.Codecs[0]]
	}

	available, err := ffmpegEncoderSet(opts.FFmpegPath)
	if err != nil {
		log.Debug("encoder list failed", "err", err)
	}

	if opts.Hardware {
		for _, candidate := range hardwareEncoderCandidates() {
			if len(available) > 0 {
				if _, ok := available[candidate.codec]; !ok {
					continue
				}
			}
			if err := probeVideoEncoder(opts.FFmpegPath, candidate); err != nil {
				log.Debug("encoder probe failed", "encoder", candidate.label, "err", err)
				continue
			}
			log.Info("video encoder selected", "encoder", candidate.label, "mode", "hardware")
			return candidate
		}
	}

	for _, name := range opts.Codecs {
		if len(available) > 0 {
			if _, ok := available[name]; !ok {
				continue
			}
		}
		log.Info("video encoder selected", "encoder", name, "mode", "software")
		return softwarePlans[name]
	}
	log.Warn("no preferred encoder available, using fallback", "encoder", fallback.label)
	return fallback
}

func ffmpegEncoderSet(ffmpegPath string) (map[string]struct{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), encoderProbeTimeout)
	defer cancel()

	cmd := processutil.Command(ctx, ffmpegPath, "-hide_banner", "-encoders")
	out, err := cmd.Output()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("ffmpeg -encoders timeout after %s", encoderProbeTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("ffmpeg -encoders failed: %w", err)
	}
	return parseEncoderList(out), nil
}

// parseEncoderList reads `ffmpeg -encoders` output. Lines look like
// " V....D libx264  libx264 H.264 ..." with flags first and the name second.
func parseEncoderList(out []byte) map[string]struct{} {
	encoders := make(map[string]struct{})
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 2 {
			continue
		}
		if strings.HasPrefix(fields[0], "V") && fields[1] != "=" {
			encoders[fields[1]] = struct{}{}
		}
	}
	return encoders
}

func probeVideoEncoder(ffmpegPath string, plan encoderPlan) error {
	ctx, cancel := context.WithTimeout(context.Background(), encoderProbeTimeout)
	defer cancel()

	args := []string{"-v", "error", "-nostdin"}
	args = append(args, plan.globalArgs...)
	args = append(args,
		"-f", "lavfi",
		"-i", "color=c=black:s=640x480:r=10:d=0.5",
		"-an",
		"-frames:v", "4",
		"-vf", plan.pixelFilter,
	)
	args = append(args, plan.codecArgs...)
	args = append(args, "-f", "null", "-")

	cmd := processutil.Command(ctx, ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return fmt.Errorf("probe timeout after %s", encoderProbeTimeout)
	}
	if err != nil {
		return fmt.Errorf("probe failed: %w: %s", err, tailString(strings.TrimSpace(stderr.String()), 240))
	}
	return nil
}

func hardwareEncoderCandidates() []encoderPlan {
	switch runtime.GOOS {
	case "darwin":
		return []encoderPlan{hardwareEncoderPlan("h264_videotoolbox", "yuv420p")}
	case "windows":
		return []encoderPlan{
			hardwareEncoderPlan("h264_nvenc", "yuv420p"),
			hardwareEncoderPlan("h264_amf", "yuv420p"),
			hardwareEncoderPlan("h264_qsv", "nv12"),
		}
	default:
		return []encoderPlan{
			hardwareEncoderPlan("h264_nvenc", "yuv420p"),
			hardwareEncoderPlan("h264_qsv", "nv12"),
		}
	}
}

func hardwareEncoderPlan(codec, pixFmt string) encoderPlan {
	return encoderPlan{
		label:       codec,
		codec:       codec,
		hardware:    true,
		pixelFilter: "format=" + pixFmt,
		codecArgs:   []string{"-c:v", codec, "-b:v", "4000k", "-pix_fmt", pixFmt},
	}
}

func tailString(input string, max int) string {
	if input == "" {
		return "no ffmpeg stderr output"
	}
	if max <= 0 || len(input) <= max {
		return input
	}
	return input[len(input)-max:]
}
