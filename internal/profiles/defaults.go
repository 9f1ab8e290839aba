package profiles

import "videomorph/internal/domain"

// builtinProfiles is the default catalog restored by RestoreDefaults.
var builtinProfiles = []domain.Profile{
	{
		Name:      "MP4",
		Quality:   "MP4 Very High Quality",
		Params:    "-crf 25.0 -vcodec libx264 -acodec aac -ar 48000 -b:a 160k -coder 1 -flags +loop -g 250 -keyint_min 25 -sc_threshold 40 -i_qfactor 0.71 -strict -2",
		Extension: ".mp4",
	},
	{
		Name:      "MP4",
		Quality:   "MP4 High Quality",
		Params:    "-crf 35.0 -vcodec libx264 -acodec aac -ar 48000 -b:a 128k -coder 1 -flags +loop -g 250 -keyint_min 25 -sc_threshold 40 -i_qfactor 0.71 -strict -2",
		Extension: ".mp4",
	},
	{
		Name:      "MP4",
		Quality:   "MP4 Fullscreen (4:3)",
		Params:    "-f mp4 -r 29.97 -vcodec libx264 -s 640x480 -b:v 1000k -aspect 4:3 -maxrate 1500k -bufsize 4M -refs 1 -bf 3 -g 250 -keyint_min 25 -qmin 10 -qmax 51 -acodec aac -b:a 112k -ar 48000 -ac 2 -strict -2",
		Extension: ".mp4",
	},
	{
		Name:      "MP4",
		Quality:   "MP4 Widescreen (16:9)",
		Params:    "-f mp4 -r 29.97 -vcodec libx264 -s 704x384 -b:v 1000k -aspect 16:9 -maxrate 1500k -bufsize 4M -refs 1 -bf 3 -g 250 -keyint_min 25 -qmin 10 -qmax 51 -acodec aac -b:a 112k -ar 48000 -ac 2 -strict -2",
		Extension: ".mp4",
	},
	{
		Name:      "DVD",
		Quality:   "DVD Fullscreen (4:3)",
		Params:    "-f dvd -target ntsc-dvd -vcodec mpeg2video -r 29.97 -s 352x480 -aspect 4:3 -b:v 4000k -mbd rd -cmp 2 -subcmp 2 -acodec mp2 -b:a 192k -ar 48000 -ac 2",
		Extension: ".mpg",
	},
	{
		Name:      "DVD",
		Quality:   "DVD Widescreen (16:9)",
		Params:    "-f dvd -target ntsc-dvd -vcodec mpeg2video -r 29.97 -s 352x480 -aspect 16:9 -b:v 4000k -mbd rd -cmp 2 -subcmp 2 -acodec mp2 -b:a 192k -ar 48000 -ac 2",
		Extension: ".mpg",
	},
	{
		Name:      "VCD",
		Quality:   "VCD High Quality",
		Params:    "-f vcd -target ntsc-vcd -mbd rd -cmp 0 -subcmp 2",
		Extension: ".mpg",
	},
	{
		Name:      "AVI",
		Quality:   "MS Compatible AVI",
		Params:    "-acodec libmp3lame -vcodec msmpeg4 -b:a 192k -b:v 1000k -s 640x480 -ar 44100",
		Extension: ".avi",
	},
	{
		Name:      "AVI",
		Quality:   "XVID Fullscreen (4:3)",
		Params:    "-f avi -r 29.97 -vcodec libxvid -vtag XVID -s 640x480 -aspect 4:3 -maxrate 1800k -b:v 1500k -qmin 3 -qmax 5 -bufsize 4096 -mbd 2 -bf 2 -g 300 -acodec libmp3lame -ar 48000 -b:a 128k -ac 2",
		Extension: ".avi",
	},
	{
		Name:      "WEBM",
		Quality:   "WEBM High Quality",
		Params:    "-vcodec libvpx-vp9 -crf 31 -b:v 0 -acodec libopus -b:a 128k",
		Extension: ".webm",
	},
	{
		Name:      "MKV",
		Quality:   "MKV H.265 Quality",
		Params:    "-vcodec libx265 -crf 26 -preset medium -acodec aac -b:a 160k",
		Extension: ".mkv",
	},
	{
		Name:      "FLV",
		Quality:   "FLV Widescreen (16:9)",
		Params:    "-vcodec flv -f flv -r 29.97 -s 320x180 -aspect 16:9 -b:v 300k -g 160 -cmp dct -subcmp dct -mbd 2 -ac 1 -ar 22050 -b:a 56k",
		Extension: ".flv",
	},
	{
		Name:      "WMV",
		Quality:   "WMV Generic",
		Params:    "-vcodec wmv2 -acodec wmav2 -b:v 1000k -b:a 160k -r 25",
		Extension: ".wmv",
	},
	{
		Name:      "MP3",
		Quality:   "MP3 Audio 320k",
		Params:    "-vn -acodec libmp3lame -b:a 320k",
		Extension: ".mp3",
	},
}

// Defaults returns a copy of the built-in profile set.
func Defaults() []domain.Profile {
	out := make([]domain.Profile, len(builtinProfiles))
	copy(out, builtinProfiles)
	return out
}
