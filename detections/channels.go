package detections

import (
	"image"
	"sync"
)

type channelProcessor struct {
	width, height int
	buffer        []float32
	channelSize   int
}

func newChannelProcessor(width, height int) *channelProcessor {
	return &channelProcessor{
		width:       width,
		height:      height,
		channelSize: width * height,
		buffer:      make([]float32, width*height*InputChannels),
	}
}

// processChannels fills one plane per channel with (v/255 - mean) / std,
// one goroutine per channel.
func (cp *channelProcessor) processChannels(img *image.NRGBA, norm Normalization) {
	var wg sync.WaitGroup
	wg.Add(InputChannels)

	for c := 0; c < InputChannels; c++ {
		go func(channel int) {
			defer wg.Done()
			plane := cp.buffer[channel*cp.channelSize : (channel+1)*cp.channelSize]
			origin := img.Rect.Min
			mean := norm.Mean[channel]
			scale := 1 / norm.Std[channel]

			for y := 0; y < cp.height; y++ {
				row := img.PixOffset(origin.X, origin.Y+y)
				for x := 0; x < cp.width; x++ {
					v := float32(img.Pix[row+x*4+channel]) / 255.0
					plane[y*cp.width+x] = (v - mean) * scale
				}
			}
		}(c)
	}

	wg.Wait()
}
