package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
)

// ============================================================================
// Voice Transport
// ============================================================================

const (
	MsgTransportJoinFail      = "failed to join voice channel after %d attempts: %w"
	MsgTransportJoinRetry     = "Retrying voice connection in %v (attempt %d/%d)"
	MsgTransportTranscodeFail = "Transcode ended with error in guild %s: %v"

	voiceJoinAttempts = 5
)

var (
	OpusSilence     = []byte{0xf8, 0xff, 0xfe}
	SilenceDuration = 1 * time.Second
)

func init() {
	astiav.SetLogLevel(astiav.LogLevelFatal)
}

// VoiceTransport streams transcoded Opus audio into a guild voice channel.
// One instance per player; Play replaces any active source.
type VoiceTransport struct {
	client    *bot.Client
	GuildID   snowflake.ID
	ChannelID snowflake.ID
	conn      voice.Conn

	mu         sync.Mutex
	playCancel context.CancelFunc
	playing    bool

	pauseMu   sync.RWMutex
	paused    bool
	pauseChan chan struct{} // closed while not paused
}

func NewVoiceTransport(ctx context.Context, client *bot.Client, guildID, channelID snowflake.ID) (*VoiceTransport, error) {
	t := &VoiceTransport{
		client:    client,
		GuildID:   guildID,
		ChannelID: channelID,
		conn:      client.VoiceManager.CreateConn(guildID),
		pauseChan: make(chan struct{}),
	}
	close(t.pauseChan)

	var lastErr error
	for i := 0; i < voiceJoinAttempts; i++ {
		if i > 0 {
			backoff := time.Duration(i) * 2 * time.Second
			LogMusic(MsgTransportJoinRetry, backoff, i+1, voiceJoinAttempts)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err := t.conn.Open(ctx, channelID, false, false); err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		t.conn.Close(ctx)
		return nil, fmt.Errorf(MsgTransportJoinFail, voiceJoinAttempts, lastErr)
	}

	return t, nil
}

// Play opens the stream URL, starts the transcode goroutine and returns.
// onFinish fires exactly once when the source ends, fails or is stopped.
func (t *VoiceTransport) Play(ctx context.Context, streamURL string, onFinish func()) error {
	t.Stop()

	playCtx, cancel := context.WithCancel(ctx)

	tc := NewTranscoder()
	if err := tc.OpenInput(streamURL); err != nil {
		cancel()
		tc.Close()
		return err
	}
	if err := tc.SetupDecoder(); err != nil {
		cancel()
		tc.Close()
		return err
	}
	if err := tc.SetupEncoder(); err != nil {
		cancel()
		tc.Close()
		return err
	}

	provider := &opusFrameProvider{
		frames:    make(chan []byte, 50),
		ctx:       playCtx,
		transport: t,
		onFinish:  onFinish,
	}

	t.mu.Lock()
	t.playCancel = cancel
	t.playing = true
	t.mu.Unlock()

	t.conn.SetOpusFrameProvider(provider)
	t.conn.SetSpeaking(playCtx, voice.SpeakingFlagMicrophone)

	safeGo(func() {
		defer tc.Close()
		err := tc.Transcode(playCtx, func(frame []byte) {
			select {
			case provider.frames <- frame:
			case <-playCtx.Done():
			}
		})
		if err != nil && playCtx.Err() == nil && !errors.Is(err, context.Canceled) {
			LogMusic(MsgTransportTranscodeFail, t.GuildID, err)
		}

		t.mu.Lock()
		if t.playing && t.playCancel != nil {
			t.playing = false
		}
		t.mu.Unlock()
	})

	return nil
}

// Stop cancels the active source. The provider observes the cancellation and
// fires the finish callback.
func (t *VoiceTransport) Stop() {
	t.mu.Lock()
	cancel := t.playCancel
	t.playCancel = nil
	t.playing = false
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// A paused provider blocks on the pause gate; release it so it can see
	// the cancellation.
	t.Resume()
}

func (t *VoiceTransport) Pause() {
	t.pauseMu.Lock()
	if !t.paused {
		t.paused = true
		t.pauseChan = make(chan struct{})
	}
	t.pauseMu.Unlock()
	t.conn.SetSpeaking(context.TODO(), 0)
}

func (t *VoiceTransport) Resume() {
	t.pauseMu.Lock()
	if t.paused {
		t.paused = false
		close(t.pauseChan)
	}
	t.pauseMu.Unlock()
}

func (t *VoiceTransport) IsPlaying() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

func (t *VoiceTransport) IsPaused() bool {
	t.pauseMu.RLock()
	defer t.pauseMu.RUnlock()
	return t.paused
}

// countsAsListener reports whether a voice state puts someone in the given
// channel, the bot itself excluded. Deafened members still count; the player
// only leaves once the channel is truly empty.
func countsAsListener(state discord.VoiceState, channelID, botID snowflake.ID) bool {
	return state.ChannelID != nil && *state.ChannelID == channelID && state.UserID != botID
}

// Occupants counts humans in the transport's channel.
func (t *VoiceTransport) Occupants() int {
	count := 0
	for state := range t.client.Caches.VoiceStates(t.GuildID) {
		if !countsAsListener(state, t.ChannelID, t.client.ID()) {
			continue
		}
		if m, ok := t.client.Caches.Member(t.GuildID, state.UserID); !ok || !m.User.Bot {
			count++
		}
	}
	return count
}

func (t *VoiceTransport) Disconnect(ctx context.Context) {
	t.Stop()
	t.conn.SetOpusFrameProvider(nil)
	t.conn.SetSpeaking(ctx, 0)
	t.conn.Close(ctx)
}

// opusFrameProvider hands transcoded frames to the voice connection. A nil
// frame from the transcoder marks end of stream; a short silence tail is
// played before signalling EOF so the last frames are not clipped.
type opusFrameProvider struct {
	frames    chan []byte
	ctx       context.Context
	transport *VoiceTransport
	onFinish  func()
	once      sync.Once

	draining      bool
	silenceFrames int
}

func (p *opusFrameProvider) finish() {
	p.once.Do(func() {
		if p.onFinish != nil {
			p.onFinish()
		}
	})
}

func (p *opusFrameProvider) ProvideOpusFrame() ([]byte, error) {
	p.transport.pauseMu.RLock()
	pauseChan := p.transport.pauseChan
	p.transport.pauseMu.RUnlock()

	select {
	case <-pauseChan:
	case <-p.ctx.Done():
		p.finish()
		return nil, io.EOF
	}

	if p.draining {
		target := int(SilenceDuration.Milliseconds() / 20)
		if p.silenceFrames < target {
			p.silenceFrames++
			return OpusSilence, nil
		}
		p.finish()
		return nil, io.EOF
	}

	select {
	case f := <-p.frames:
		if f == nil {
			p.draining = true
			return OpusSilence, nil
		}
		return f, nil
	case <-p.ctx.Done():
		p.finish()
		return nil, io.EOF
	case <-time.After(500 * time.Millisecond):
		return OpusSilence, nil
	}
}

func (p *opusFrameProvider) Close() {
	p.finish()
}

// ============================================================================
// Transcoder
// ============================================================================

// Transcoder decodes an input stream, resamples to 48kHz stereo s16 and
// encodes 20ms Opus frames.
type Transcoder struct {
	inputCtx         *astiav.FormatContext
	decoderCtx       *astiav.CodecContext
	encoderCtx       *astiav.CodecContext
	packet           *astiav.Packet
	frame            *astiav.Frame
	resampleFrame    *astiav.Frame
	resampleCtx      *astiav.SoftwareResampleContext
	fifo             *astiav.AudioFifo
	audioStreamIndex int
	onFrame          func([]byte)
}

func NewTranscoder() *Transcoder {
	return &Transcoder{
		packet:        astiav.AllocPacket(),
		frame:         astiav.AllocFrame(),
		resampleFrame: astiav.AllocFrame(),
	}
}

func (t *Transcoder) OpenInput(in string) error {
	t.inputCtx = astiav.AllocFormatContext()
	if t.inputCtx == nil {
		return errors.New("failed to alloc format context")
	}

	var opts *astiav.Dictionary
	if strings.HasPrefix(in, "http") {
		opts = astiav.NewDictionary()
		defer opts.Free()
		opts.Set("reconnect", "1", 0)
		opts.Set("reconnect_at_eof", "1", 0)
		opts.Set("reconnect_streamed", "1", 0)
		opts.Set("reconnect_delay_max", "30", 0)
		opts.Set("timeout", "30000000", 0)
		opts.Set("probesize", "10000000", 0)
		opts.Set("analyzeduration", "10000000", 0)
	}
	if err := t.inputCtx.OpenInput(in, nil, opts); err != nil {
		return err
	}
	if err := t.inputCtx.FindStreamInfo(nil); err != nil {
		return err
	}

	t.audioStreamIndex = -1
	for _, s := range t.inputCtx.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeAudio {
			t.audioStreamIndex = s.Index()
			break
		}
	}
	if t.audioStreamIndex == -1 {
		return errors.New("no audio stream")
	}
	return nil
}

func (t *Transcoder) SetupDecoder() error {
	p := t.inputCtx.Streams()[t.audioStreamIndex].CodecParameters()
	d := astiav.FindDecoder(p.CodecID())
	if d == nil {
		return errors.New("no decoder")
	}
	t.decoderCtx = astiav.AllocCodecContext(d)
	_ = p.ToCodecContext(t.decoderCtx)
	return t.decoderCtx.Open(d, nil)
}

func (t *Transcoder) SetupEncoder() error {
	e := astiav.FindEncoderByName("libopus")
	if e == nil {
		e = astiav.FindEncoder(astiav.CodecIDOpus)
	}
	if e == nil {
		return errors.New("no opus encoder")
	}
	t.encoderCtx = astiav.AllocCodecContext(e)
	t.encoderCtx.SetBitRate(192000)
	t.encoderCtx.SetSampleRate(48000)
	t.encoderCtx.SetChannelLayout(astiav.ChannelLayoutStereo)
	t.encoderCtx.SetSampleFormat(astiav.SampleFormatS16)
	t.encoderCtx.SetTimeBase(astiav.NewRational(1, 48000))
	o := astiav.NewDictionary()
	defer o.Free()
	o.Set("vbr", "on", 0)
	o.Set("compression_level", "10", 0)
	o.Set("frame_size", "20", 0)
	if err := t.encoderCtx.Open(e, o); err != nil {
		return err
	}
	t.resampleCtx = astiav.AllocSoftwareResampleContext()
	if t.resampleCtx == nil {
		return errors.New("failed to allocate resampler")
	}
	return nil
}

// Transcode runs until the input ends or ctx is cancelled. on receives each
// encoded frame and a final nil marking end of stream.
func (t *Transcoder) Transcode(ctx context.Context, on func([]byte)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transcoder panic: %v", r)
		}
	}()

	defer t.packet.Unref()
	t.onFrame = on
	defer func() {
		if t.onFrame != nil {
			t.onFrame(nil)
		}
	}()

	t.fifo = astiav.AllocAudioFifo(t.encoderCtx.SampleFormat(), t.encoderCtx.ChannelLayout().Channels(), 960*2)
	if t.fifo == nil {
		return errors.New("failed to alloc fifo")
	}
	defer func() {
		if t.fifo != nil {
			t.fifo.Free()
			t.fifo = nil
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		t.packet.Unref()

		if err := t.inputCtx.ReadFrame(t.packet); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				break
			}
			return err
		}

		if t.packet.StreamIndex() != t.audioStreamIndex {
			continue
		}

		if err := t.decoderCtx.SendPacket(t.packet); err != nil {
			return err
		}

		for {
			if err := t.decoderCtx.ReceiveFrame(t.frame); err != nil {
				break
			}
			if err := t.pushToFifo(); err != nil {
				return err
			}
			t.frame.Unref()
		}
	}

	// Flush decoder
	if t.decoderCtx != nil {
		_ = t.decoderCtx.SendPacket(nil)
		for {
			if err := t.decoderCtx.ReceiveFrame(t.frame); err != nil {
				break
			}
			if err := t.pushToFifo(); err != nil {
				return err
			}
			t.frame.Unref()
		}
	}

	if err := t.processFifo(true); err != nil {
		return err
	}

	// Flush encoder
	if t.encoderCtx != nil {
		_ = t.encoderCtx.SendFrame(nil)
		for {
			t.packet.Unref()
			if t.encoderCtx.ReceivePacket(t.packet) != nil {
				break
			}
			t.emitPacket()
		}
	}
	return nil
}

func (t *Transcoder) emitPacket() {
	if t.onFrame == nil {
		return
	}
	d := t.packet.Data()
	fd := make([]byte, len(d))
	copy(fd, d)
	t.onFrame(fd)
}

func (t *Transcoder) encodeAndWrite(f *astiav.Frame) error {
	if err := t.encoderCtx.SendFrame(f); err != nil {
		return err
	}
	for {
		t.packet.Unref()
		if t.encoderCtx.ReceivePacket(t.packet) != nil {
			break
		}
		t.emitPacket()
	}
	return nil
}

func (t *Transcoder) pushToFifo() error {
	t.resampleFrame.Unref()
	t.resampleFrame.SetChannelLayout(t.encoderCtx.ChannelLayout())
	t.resampleFrame.SetSampleFormat(t.encoderCtx.SampleFormat())
	t.resampleFrame.SetSampleRate(t.encoderCtx.SampleRate())
	nb := int(astiav.RescaleQ(int64(t.frame.NbSamples()), astiav.NewRational(1, t.frame.SampleRate()), astiav.NewRational(1, t.encoderCtx.SampleRate())))
	if nb > 0 {
		t.resampleFrame.SetNbSamples(nb)
		_ = t.resampleFrame.AllocBuffer(0)
		if t.resampleCtx.ConvertFrame(t.frame, t.resampleFrame) == nil {
			_, _ = t.fifo.Write(t.resampleFrame)
			return t.processFifo(false)
		}
	}
	return nil
}

// processFifo drains complete 20ms frames (960 samples at 48kHz) from the
// fifo into the encoder. With drain set, a final short frame is flushed too.
func (t *Transcoder) processFifo(drain bool) error {
	if t.fifo == nil {
		return nil
	}
	for {
		sz := 960
		if t.fifo.Size() < sz {
			if !drain || t.fifo.Size() == 0 {
				return nil
			}
			sz = t.fifo.Size()
		}
		t.resampleFrame.Unref()
		t.resampleFrame.SetNbSamples(sz)
		t.resampleFrame.SetChannelLayout(t.encoderCtx.ChannelLayout())
		t.resampleFrame.SetSampleFormat(t.encoderCtx.SampleFormat())
		t.resampleFrame.SetSampleRate(t.encoderCtx.SampleRate())
		_ = t.resampleFrame.AllocBuffer(0)
		_, _ = t.fifo.Read(t.resampleFrame)

		if err := t.encodeAndWrite(t.resampleFrame); err != nil {
			return err
		}
	}
}

func (t *Transcoder) Close() {
	if t.resampleCtx != nil {
		t.resampleCtx.Free()
	}
	if t.resampleFrame != nil {
		t.resampleFrame.Free()
	}
	if t.packet != nil {
		t.packet.Free()
	}
	if t.frame != nil {
		t.frame.Free()
	}
	if t.decoderCtx != nil {
		t.decoderCtx.Free()
	}
	if t.encoderCtx != nil {
		t.encoderCtx.Free()
	}
	if t.inputCtx != nil {
		t.inputCtx.CloseInput()
		t.inputCtx.Free()
	}
}
