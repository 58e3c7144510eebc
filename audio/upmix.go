package audio

// Upmix duplicates a mono clip across channels. Clips that are not mono, or a
// target of one channel or fewer, are returned unchanged.
func Upmix(clip Clip, channels int) Clip {
	if clip.Format.Channels != 1 || channels <= 1 {
		return clip
	}

	samples := len(clip.PCM) / BytesPerSample
	out := make([]byte, samples*BytesPerSample*channels)
	for i := 0; i < samples; i++ {
		src := clip.PCM[i*BytesPerSample : (i+1)*BytesPerSample]
		frame := out[i*BytesPerSample*channels:]
		for ch := 0; ch < channels; ch++ {
			copy(frame[ch*BytesPerSample:], src)
		}
	}

	return Clip{
		PCM:    out,
		Format: Format{SampleRateHz: clip.Format.SampleRateHz, Channels: channels},
	}
}
