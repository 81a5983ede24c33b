// Package main - AlexNet feature extraction demo
// Runs the reduced AlexNet variant over a synthetic image batch and prints
// the tower structure and resulting feature vector shape.
package main

import (
	"fmt"
	"log"
	"math/rand"

	"github.com/freecloud2/convstack/convstack"
)

func main() {
	fmt.Println("=============================================================")
	fmt.Println("  convstack - AlexNet Mini Feature Extraction")
	fmt.Println("=============================================================")
	fmt.Println()

	net, err := convstack.NewAlexNetMini(convstack.AlexNetConfig{
		UseBatchNorm: true,
	})
	if err != nil {
		log.Fatal("building network:", err)
	}
	fmt.Printf("minimum input size: %dx%d\n", net.MinInputSize(), net.MinInputSize())

	rand.Seed(7)
	size := net.MinInputSize()
	batch := convstack.NewTensor(1, size, size, 3)
	for i := range batch.Data {
		batch.Data[i] = rand.Float64()
	}

	features, err := net.Forward(batch, 0.7, true)
	if err != nil {
		log.Fatal("forward pass:", err)
	}
	fmt.Printf("input shape:   %v\n", batch.Shape)
	fmt.Printf("feature shape: %v\n", features.Shape)
	fmt.Println()

	fmt.Println("convolutional tower:")
	for _, conv := range net.ConvModules() {
		fmt.Printf("  %s\n", conv)
	}
	fmt.Println("fully connected head:")
	for _, fc := range net.LinearModules() {
		fmt.Printf("  linear -> %d\n", fc.OutputSize)
	}
	fmt.Printf("trainable variables: %d\n", len(net.GetVariables()))
}
