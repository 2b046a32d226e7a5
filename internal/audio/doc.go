// Package audio provides microphone capture and segmentation of the raw
// PCM stream into fixed-size wire segments. Capture runs on the default
// input device at 16 kHz mono s16le; the segmenter re-blocks arbitrary
// capture buffers into 200 ms segments for the streaming session.
package audio
