// Command facekit runs the face-analysis pipeline over images, directories
// and camera frames, and manages the identity gallery.
package main

func main() {
	Execute()
}
