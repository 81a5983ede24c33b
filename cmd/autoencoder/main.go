// Package main - Convolutional autoencoder demo
// Builds an encoder stack, derives the matching decoder by transposition
// and runs a reconstruction pass over a synthetic image batch.
package main

import (
	"fmt"
	"log"
	"math/rand"

	"github.com/freecloud2/convstack/convstack"
)

func main() {
	fmt.Println("=============================================================")
	fmt.Println("  convstack - Convolutional Autoencoder")
	fmt.Println("=============================================================")
	fmt.Println()

	encoder, err := convstack.NewConvNet2D(convstack.Config{
		Name:           "encoder",
		OutputChannels: []int{16, 32, 64},
		KernelShapes:   []convstack.Dim2{convstack.Square(3)},
		Strides:        []convstack.Dim2{convstack.Square(2)},
		Paddings:       []convstack.Padding{convstack.Same},
	})
	if err != nil {
		log.Fatal("building encoder:", err)
	}

	// The decoder mirrors the encoder layer by layer. Channel counts and
	// target shapes are derived once the encoder has seen an input.
	decoder, err := encoder.Transpose(&convstack.TransposeConfig{Name: "decoder"})
	if err != nil {
		log.Fatal("deriving decoder:", err)
	}

	rand.Seed(42)
	batch := convstack.NewTensor(2, 32, 32, 3)
	for i := range batch.Data {
		batch.Data[i] = rand.Float64()
	}

	code, err := encoder.Forward(batch, true)
	if err != nil {
		log.Fatal("encoding:", err)
	}
	fmt.Printf("input shape:  %v\n", batch.Shape)
	fmt.Printf("code shape:   %v\n", code.Shape)

	recon, err := decoder.Forward(code, true)
	if err != nil {
		log.Fatal("decoding:", err)
	}
	fmt.Printf("output shape: %v\n", recon.Shape)

	var mse float64
	for i := range batch.Data {
		d := recon.Data[i] - batch.Data[i]
		mse += d * d
	}
	mse /= float64(len(batch.Data))
	fmt.Printf("reconstruction MSE (untrained): %.4f\n", mse)

	fmt.Println()
	fmt.Println("encoder variables:")
	for _, v := range encoder.GetVariables() {
		fmt.Printf("  %-28s %v\n", v.Name, v.Shape)
	}
	fmt.Println("decoder variables:")
	for _, v := range decoder.GetVariables() {
		fmt.Printf("  %-28s %v\n", v.Name, v.Shape)
	}
}
