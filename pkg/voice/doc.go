// Package voice analyzes live microphone audio and applies target-voice
// transforms to the analysis.
//
// The Analyzer turns one audio.Chunk into Stats (volume, dominant
// frequency, activity). Transform scales Stats by a Profile's fixed
// multipliers; ProfileOriginal is the identity.
//
// A Processor drives both on the audio source's own cadence, independent of
// the video scheduler:
//
//	p := voice.NewProcessor(voice.ProcessorConfig{
//	    Mode: func() (bool, voice.Profile) { return cfg.Voice, cfg.VoiceProfile },
//	})
//	go p.Run(ctx, src.Stream())
//	latest := p.Latest()
package voice
